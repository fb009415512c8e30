package internal

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/txsvc/stdlib/v2"

	"github.com/airgradient/otaengine/api/ota"
)

var (
	opsEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ota_events_received_total",
		Help: "The number of update events received by a listener",
	}, []string{"result"})
)

func NewUpdateEvent(serial string, result ota.Result, message string) *UpdateEvent {
	return &UpdateEvent{
		Serial:    serial,
		Result:    result.String(),
		Message:   message,
		Timestamp: stdlib.Now(),
	}
}

// ParseUpdateEvent decodes an event payload and rejects unknown results.
func ParseUpdateEvent(data []byte) (*UpdateEvent, error) {
	var evt UpdateEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	if evt.Serial == "" {
		return nil, fmt.Errorf("event without serial")
	}
	if _, ok := ota.ParseResult(evt.Result); !ok {
		return nil, fmt.Errorf("unknown result '%s'", evt.Result)
	}
	return &evt, nil
}

// CountEvent decodes data and counts it by result. Undecodable payloads
// are counted as "invalid".
func CountEvent(data []byte) (*UpdateEvent, error) {
	evt, err := ParseUpdateEvent(data)
	if err != nil {
		opsEventsReceived.WithLabelValues("invalid").Inc()
		return nil, err
	}
	opsEventsReceived.WithLabelValues(evt.Result).Inc()
	return evt, nil
}

// EventHandler returns an ota.Handler that forwards every notification of
// serial to all publishers. Publish errors are logged, never returned.
func EventHandler(serial string, publishers ...Publisher) ota.Handler {
	return func(result ota.Result, message string) {
		evt := NewUpdateEvent(serial, result, message)
		log.Info().Str("serial", serial).Str("result", evt.Result).Str("msg", message).Msg("ota")

		for _, p := range publishers {
			if err := p.Publish(evt); err != nil {
				log.Error().Err(err).Str("serial", serial).Str("result", evt.Result).Msg("publish event")
			}
		}
	}
}

// ParseUpdateCommand decodes a command payload, an empty payload is a
// command with defaults.
func ParseUpdateCommand(data []byte) (*UpdateCommand, error) {
	var cmd UpdateCommand
	if len(data) == 0 {
		return &cmd, nil
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
