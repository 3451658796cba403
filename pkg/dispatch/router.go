package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/devicehub/sdk-go/pkg/events"
)

var ErrUnexpectedEvent = errors.New("handler received an event of the wrong type")

// HandlerFunc handles one decoded event.
type HandlerFunc func(ctx context.Context, event events.Event) error

// On adapts a handler for one concrete event type.
func On[T events.Event](fn func(ctx context.Context, event T) error) HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedEvent, event)
		}
		return fn(ctx, typed)
	}
}

// HandlerError wraps a failure returned or raised by a handler.
type HandlerError struct {
	Tag events.Tag
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Tag, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Router holds the handlers a dispatcher routes to. Anything left unset is a no-op.
type Router struct {
	routes      map[events.Tag]HandlerFunc
	taps        []HandlerFunc
	unknown     func(ctx context.Context, event *events.UnknownEvent) error
	control     func(ctx context.Context, event *events.SubscriptionConfirmation) error
	decodeError func(ctx context.Context, env events.Envelope, err error) error
}

func NewRouter() *Router {
	return &Router{
		routes: make(map[events.Tag]HandlerFunc),
	}
}

// Handle sets the handler for a domain event tag, replacing any previous one.
func (r *Router) Handle(tag events.Tag, handler HandlerFunc) *Router {
	if tag == events.TagUnknown || tag.IsControl() {
		panic(fmt.Sprintf("dispatch: %s has a dedicated handler", tag))
	}
	r.routes[tag] = handler
	return r
}

// HandleUnknown sets the catch-all for subjects that match no event.
func (r *Router) HandleUnknown(handler func(ctx context.Context, event *events.UnknownEvent) error) *Router {
	r.unknown = handler
	return r
}

// HandleControl sets the handler for subscription confirmations.
func (r *Router) HandleControl(handler func(ctx context.Context, event *events.SubscriptionConfirmation) error) *Router {
	r.control = handler
	return r
}

// HandleDecodeError sets the handler for messages that could not be decoded.
// Returning an error leaves the message on the queue.
func (r *Router) HandleDecodeError(handler func(ctx context.Context, env events.Envelope, err error) error) *Router {
	r.decodeError = handler
	return r
}

// Use adds a tap that sees every decoded domain event after its handler.
func (r *Router) Use(tap HandlerFunc) *Router {
	r.taps = append(r.taps, tap)
	return r
}

func (r *Router) route(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case *events.UnknownEvent:
		if r.unknown == nil {
			return nil
		}
		return guard(event.Tag(), func() error { return r.unknown(ctx, e) })
	case *events.SubscriptionConfirmation:
		if r.control == nil {
			return nil
		}
		return guard(event.Tag(), func() error { return r.control(ctx, e) })
	}

	var errs []error
	if handler, ok := r.routes[event.Tag()]; ok && handler != nil {
		if err := guard(event.Tag(), func() error { return handler(ctx, event) }); err != nil {
			errs = append(errs, err)
		}
	}
	for _, tap := range r.taps {
		if err := guard(event.Tag(), func() error { return tap(ctx, event) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) failed(ctx context.Context, env events.Envelope, decodeErr error) error {
	if r.decodeError == nil {
		return nil
	}
	return guard(events.TagUnknown, func() error { return r.decodeError(ctx, env, decodeErr) })
}

// guard runs a handler, turning errors and panics into a HandlerError.
func guard(tag events.Tag, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Tag: tag, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &HandlerError{Tag: tag, Err: err}
	}
	return nil
}
