package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Stage names the decoding step that failed.
type Stage string

const (
	StageEnvelope   Stage = "envelope"
	StageDecompress Stage = "decompress"
	StagePayload    Stage = "payload"
)

var (
	ErrUnsupportedFormat = errors.New("payload is neither XML nor JSON")
	ErrMissingEventID    = errors.New("payload has no EventId")
	ErrTagMismatch       = errors.New("payload type does not match subject")
)

// DecodeError is returned for every message that could not be turned into an Event.
type DecodeError struct {
	Stage Stage
	Tag   Tag
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Stage == StagePayload {
		return fmt.Sprintf("decode %s: %s: %v", e.Stage, e.Tag, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Constructors for the domain events. Adding an event means adding a line here.
var constructors = map[Tag]func() Event{
	TagAggregate:            func() Event { return &AggregateEvent{} },
	TagCommandCompletion:    func() Event { return &CommandCompletionEvent{} },
	TagCommandQueued:        func() Event { return &CommandQueuedEvent{} },
	TagDeviceFailure:        func() Event { return &DeviceFailureEvent{} },
	TagDeviceRestore:        func() Event { return &DeviceRestoreEvent{} },
	TagHeartbeat:            func() Event { return &HeartbeatEvent{} },
	TagLogEntry:             func() Event { return &LogEntryEvent{} },
	TagLogicalDeviceAdded:   func() Event { return &LogicalDeviceAddedEvent{} },
	TagLogicalDeviceRemoved: func() Event { return &LogicalDeviceRemovedEvent{} },
	TagObject:               func() Event { return &ObjectEvent{} },
	TagSensorReading:        func() Event { return &SensorReadingEvent{} },
}

// Decode turns an envelope into a typed event.
//
// The envelope's Message must hold a notification document. When gzipEnabled is set, the
// notification's inner message is base64 decoded and inflated before the payload is parsed.
// Subscription confirmations are returned as *SubscriptionConfirmation and subjects that match
// no known event as *UnknownEvent. Every failure is a *DecodeError.
func Decode(env Envelope, gzipEnabled bool) (Event, error) {
	notification, err := parseNotification(env.Message)
	if err != nil {
		return nil, &DecodeError{Stage: StageEnvelope, Err: err}
	}

	subject := notification.subject(env)
	tag := ParseTag(subject)

	// Control messages are produced by the pub/sub layer and are never compressed
	if tag.IsControl() {
		return &SubscriptionConfirmation{Notification: notification}, nil
	}

	payload := notification.Message
	if gzipEnabled {
		inflated, err := Decompress(payload)
		if err != nil {
			return nil, &DecodeError{Stage: StageDecompress, Tag: tag, Err: err}
		}
		payload = inflated
	}

	if tag == TagUnknown {
		return &UnknownEvent{Subject: subject, Payload: payload}, nil
	}

	event, err := decodePayload(tag, payload)
	if err != nil {
		return nil, &DecodeError{Stage: StagePayload, Tag: tag, Err: err}
	}
	return event, nil
}

// Decompress base64 decodes and gzip inflates a payload.
func Decompress(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("base64: %w", err)
	}
	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("gzip: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("gzip: %w", err)
	}
	return string(data), nil
}

func decodePayload(tag Tag, payload string) (Event, error) {
	construct, ok := constructors[tag]
	if !ok {
		return nil, fmt.Errorf("no decoder for %s", tag)
	}
	event := construct()

	trimmed := strings.TrimSpace(strings.TrimPrefix(payload, "\ufeff"))
	switch {
	case strings.HasPrefix(trimmed, "<"):
		if err := decodeXML(tag, trimmed, event); err != nil {
			return nil, err
		}
	case strings.HasPrefix(trimmed, "{"):
		if err := decodeJSON(tag, trimmed, event); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupportedFormat
	}

	if event.EventHeader().EventID == "" {
		return nil, ErrMissingEventID
	}
	return event, nil
}

func decodeXML(tag Tag, payload string, event Event) error {
	decoder := xml.NewDecoder(strings.NewReader(payload))
	for {
		token, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("xml: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if !strings.EqualFold(start.Name.Local, tag.String()) {
			return fmt.Errorf("%w: root element <%s>", ErrTagMismatch, start.Name.Local)
		}
		if err := decoder.DecodeElement(event, &start); err != nil {
			return fmt.Errorf("xml: %w", err)
		}
		return nil
	}
}

func decodeJSON(tag Tag, payload string, event Event) error {
	var typed struct {
		Type string `json:"Type"`
	}
	if err := json.Unmarshal([]byte(payload), &typed); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	if typed.Type != "" && ParseTag(typed.Type) != tag {
		return fmt.Errorf("%w: type %q", ErrTagMismatch, typed.Type)
	}
	if err := json.Unmarshal([]byte(payload), event); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}
