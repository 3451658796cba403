package listen

import (
	"context"

	"github.com/devicehub/sdk-go/pkg/dispatch"
	"github.com/devicehub/sdk-go/pkg/events"
	"github.com/rs/zerolog/log"
)

type confirmer interface {
	ConfirmSubscription(ctx context.Context, subscribeURL string) error
}

type decodeErrorHandler func(ctx context.Context, env events.Envelope, err error) error

// newRouter logs every event and forwards domain events to the taps.
// A nil confirmer only logs the subscribe URL.
func newRouter(confirm confirmer, onDecodeError decodeErrorHandler, taps ...dispatch.HandlerFunc) *dispatch.Router {
	router := dispatch.NewRouter()
	for _, tag := range events.Tags() {
		router.Handle(tag, logEvent)
	}
	for _, tap := range taps {
		router.Use(tap)
	}

	router.HandleUnknown(func(ctx context.Context, event *events.UnknownEvent) error {
		log.Warn().Str("subject", event.Subject).Int("size", len(event.Payload)).Msg("unknown event subject")
		return nil
	})
	router.HandleControl(confirmSubscription(confirm))

	if onDecodeError != nil {
		router.HandleDecodeError(onDecodeError)
	}

	return router
}

func logEvent(ctx context.Context, event events.Event) error {
	header := event.EventHeader()
	log.Info().
		Str("tag", event.Tag().String()).
		Str("event_id", header.EventID).
		Str("logical_device", header.LogicalDeviceID).
		Time("event_time", header.EventTime).
		Msg("event received")
	return nil
}

func confirmSubscription(confirm confirmer) func(ctx context.Context, event *events.SubscriptionConfirmation) error {
	return func(ctx context.Context, event *events.SubscriptionConfirmation) error {
		subscribeURL := event.Notification.SubscribeURL
		if subscribeURL == "" {
			log.Warn().Str("topic", event.Notification.TopicArn).Msg("subscription confirmation has no subscribe url")
			return nil
		}
		if confirm == nil {
			log.Warn().Str("subscribe_url", subscribeURL).Msg("subscription confirmation received, confirm it manually")
			return nil
		}

		if err := confirm.ConfirmSubscription(ctx, subscribeURL); err != nil {
			return err
		}
		log.Info().Str("topic", event.Notification.TopicArn).Msg("subscription confirmed")
		return nil
	}
}

func logResult(result dispatch.Result) {
	var e = log.Info()
	switch result.Outcome {
	case dispatch.DecodeFailed, dispatch.HandlerFailed:
		e = log.Error().Err(result.Err)
	case dispatch.UnknownType:
		e = log.Warn()
	}
	e.Str("message_id", result.MessageID()).
		Str("subject", result.Subject).
		Str("outcome", result.Outcome.String()).
		Bool("retry", result.Retry).
		Msg("message dispatched")
}
