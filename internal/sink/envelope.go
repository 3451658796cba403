package sink

import (
	"encoding/json"
	"time"

	"github.com/devicehub/sdk-go/pkg/events"
)

const EventNew = "NEW"

// EventEnvelope is the document every sink forwards.
type EventEnvelope struct {
	EventType string    `json:"event_type"`
	Tag       string    `json:"tag"`
	ID        string    `json:"id"`
	Device    string    `json:"device,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func NewEventEnvelope(event events.Event) *EventEnvelope {
	header := event.EventHeader()
	device := header.LogicalDeviceID
	if device == "" {
		device = header.Device
	}
	return &EventEnvelope{
		EventType: EventNew,
		Tag:       event.Tag().String(),
		ID:        header.EventID,
		Device:    device,
		Timestamp: header.EventTime,
		Data:      event,
	}
}

func (envelope EventEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(envelope)
}
