package ota

import "time"

type (
	// Clock provides the time source for progress rate limiting and the
	// pause between chunk requests.
	Clock interface {
		Now() time.Time
		Sleep(d time.Duration)
	}

	systemClock struct{}
)

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }
