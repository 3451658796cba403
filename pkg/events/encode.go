package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Format is the markup a payload is written in.
type Format int

const (
	FormatXML Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "xml"
}

// EncodePayload writes a domain event the way the platform publishes it.
// JSON payloads carry a Type field naming the event.
func EncodePayload(event Event, format Format) ([]byte, error) {
	if _, ok := constructors[event.Tag()]; !ok {
		return nil, fmt.Errorf("cannot encode %s", event.Tag())
	}

	switch format {
	case FormatJSON:
		body, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		prefix := fmt.Sprintf(`{"Type":%q,`, event.Tag().String())
		return append([]byte(prefix), body[1:]...), nil
	case FormatXML:
		var buf bytes.Buffer
		encoder := xml.NewEncoder(&buf)
		start := xml.StartElement{Name: xml.Name{Local: event.Tag().String()}}
		if err := encoder.EncodeElement(event, start); err != nil {
			return nil, err
		}
		if err := encoder.Flush(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown format %d", format)
}

// Compress gzips a payload and base64 encodes the result.
func Compress(payload []byte) (string, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(payload); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// NewEnvelope wraps a domain event in a notification, as the platform delivers it to the queue.
func NewEnvelope(messageID string, event Event, format Format, gzipEnabled bool, sent time.Time) (Envelope, error) {
	payload, err := EncodePayload(event, format)
	if err != nil {
		return Envelope{}, err
	}
	return WrapPayload(messageID, event.Tag().String(), payload, gzipEnabled, sent)
}

// WrapPayload wraps an already encoded payload under the given subject.
func WrapPayload(messageID string, subject string, payload []byte, gzipEnabled bool, sent time.Time) (Envelope, error) {
	message := string(payload)
	if gzipEnabled {
		compressed, err := Compress(payload)
		if err != nil {
			return Envelope{}, err
		}
		message = compressed
	}

	notification := Notification{
		Type:      "Notification",
		MessageID: messageID,
		Subject:   subject,
		Message:   message,
		Timestamp: sent.UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(notification)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		MessageID: messageID,
		Subject:   subject,
		Message:   string(body),
		Attributes: map[string]string{
			AttributeSentTimestamp: strconv.FormatInt(sent.UnixMilli(), 10),
		},
	}, nil
}
