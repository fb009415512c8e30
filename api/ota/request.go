package ota

import "fmt"

const (
	// DefaultDomain is the update server used when a request names none.
	DefaultDomain = "hw.airgradient.com"
)

type (
	// UpdateRequest identifies the device asking for an update. It is only
	// used to build the probe/download URL.
	UpdateRequest struct {
		SerialNumber   string
		CurrentVersion string
		Domain         string
	}

	// Profile selects the URL shape of a hardware platform.
	Profile int
)

const (
	// ProfileOneOpenAir is the ONE / Open Air family.
	ProfileOneOpenAir Profile = iota
	// ProfileMax is the Open Air MAX, the only cellular device.
	ProfileMax
)

func NewUpdateRequest(serialNumber, currentVersion, domain string) UpdateRequest {
	if domain == "" {
		domain = DefaultDomain
	}
	return UpdateRequest{
		SerialNumber:   serialNumber,
		CurrentVersion: currentVersion,
		Domain:         domain,
	}
}

func (p Profile) String() string {
	switch p {
	case ProfileOneOpenAir:
		return "oneopenair"
	case ProfileMax:
		return "max"
	}
	return "unknown"
}

// ParseProfile maps "oneopenair" or "max" to a Profile.
func ParseProfile(s string) (Profile, error) {
	switch s {
	case "oneopenair", "one", "openair":
		return ProfileOneOpenAir, nil
	case "max":
		return ProfileMax, nil
	}
	return ProfileOneOpenAir, fmt.Errorf("unknown profile '%s'", s)
}

// URL returns the probe/download URL of req. The server matches these
// paths literally, nothing is escaped.
func (p Profile) URL(req UpdateRequest) string {
	domain := req.Domain
	if domain == "" {
		domain = DefaultDomain
	}

	if p == ProfileMax {
		return fmt.Sprintf("http://%s/sensors/%s/max/firmware.bin?current_firmware=%s", domain, req.SerialNumber, req.CurrentVersion)
	}
	return fmt.Sprintf("http://%s/sensors/airgradient:%s/generic/os/firmware.bin?current_firmware=%s", domain, req.SerialNumber, req.CurrentVersion)
}
