package internal

import "fmt"

const (
	// topics, the serial number is the only variable part
	CommandTopic = "ota/%s/command"
	EventTopic   = "ota/%s/events"
)

type (
	// {"serial":"84fce612f5b8","result":"in_progress","message":"42","ts":1683137969}
	UpdateEvent struct {
		Serial    string `json:"serial"`
		Result    string `json:"result"`
		Message   string `json:"message,omitempty"`
		Timestamp int64  `json:"ts"`
	}

	// {"domain":"hw.airgradient.com","version":"3.1.1"}
	UpdateCommand struct {
		Domain  string `json:"domain,omitempty"`
		Version string `json:"version,omitempty"`
	}

	// Publisher delivers update events to a broker.
	Publisher interface {
		Publish(evt *UpdateEvent) error
		Close()
	}
)

func (evt *UpdateEvent) String() string {
	if evt.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", evt.Serial, evt.Result, evt.Message)
	}
	return fmt.Sprintf("%s: %s", evt.Serial, evt.Result)
}

func CommandTopicFor(serial string) string {
	return fmt.Sprintf(CommandTopic, serial)
}

func EventTopicFor(serial string) string {
	return fmt.Sprintf(EventTopic, serial)
}
