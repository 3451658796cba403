package dispatch

import "github.com/devicehub/sdk-go/pkg/events"

// Outcome is what happened to a single message.
type Outcome int

const (
	Handled Outcome = iota
	UnknownType
	DecodeFailed
	HandlerFailed
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case UnknownType:
		return "unknown_type"
	case DecodeFailed:
		return "decode_failed"
	case HandlerFailed:
		return "handler_failed"
	}
	return "invalid"
}

// Result records the outcome of dispatching one envelope.
type Result struct {
	Envelope events.Envelope
	Subject  string
	Tag      events.Tag
	Outcome  Outcome
	Event    events.Event
	// Err is the decode or handler failure, nil when handled.
	Err error
	// Retry is set when a handler failed and the message should stay on the queue.
	Retry bool
}

func (r Result) MessageID() string { return r.Envelope.MessageID }

// RawBody is the undecoded message body.
func (r Result) RawBody() string { return r.Envelope.Message }
