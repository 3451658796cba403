package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devicehub/sdk-go/pkg/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxBatchSize is the largest batch a single receive may return.
const MaxBatchSize = 10

type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDecoding
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateDecoding:
		return "decoding"
	case StateDispatching:
		return "dispatching"
	}
	return "idle"
}

// Dispatcher drains a source and routes each decoded envelope to its handler.
// Batches are dispatched one at a time, and within a batch in delivery order.
type Dispatcher struct {
	source     Source
	router     *Router
	gzip       bool
	sort       bool
	batchSize  int
	retryDelay time.Duration
	idleDelay  time.Duration
	log        zerolog.Logger
	health     *Health

	mu    sync.Mutex
	state atomic.Int32
}

type Option func(*Dispatcher)

// WithGzip marks payloads as base64 encoded gzip.
func WithGzip(enabled bool) Option {
	return func(d *Dispatcher) { d.gzip = enabled }
}

// WithBatchSize limits how many envelopes are requested per receive. Values are clamped to 1..MaxBatchSize.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		d.batchSize = min(max(n, 1), MaxBatchSize)
	}
}

// WithSort orders each batch by SentTimestamp before dispatching it.
func WithSort(enabled bool) Option {
	return func(d *Dispatcher) { d.sort = enabled }
}

// WithRetryDelay sets the pause after a failed receive.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelay = delay }
}

// WithIdleDelay sets the pause after a receive that returned nothing.
func WithIdleDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.idleDelay = delay }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = logger }
}

func WithHealth(health *Health) Option {
	return func(d *Dispatcher) { d.health = health }
}

func New(source Source, router *Router, opts ...Option) *Dispatcher {
	if router == nil {
		router = NewRouter()
	}
	d := &Dispatcher{
		source:     source,
		router:     router,
		batchSize:  MaxBatchSize,
		retryDelay: 5 * time.Second,
		idleDelay:  time.Second,
		log:        log.Logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}

// Run polls the source until ctx is cancelled or the source is drained.
// A batch that has started is always finished, even after cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Int("batch_size", d.batchSize).Bool("gzip", d.gzip).Msg("dispatcher running")
	defer d.setState(StateIdle)

	for {
		if ctx.Err() != nil {
			d.log.Info().Msg("dispatcher stopped")
			return nil
		}

		d.setState(StatePolling)
		envs, err := d.source.Receive(ctx, d.batchSize)
		if err != nil {
			if errors.Is(err, ErrSourceDrained) {
				d.log.Info().Msg("event source drained")
				return nil
			}
			if ctx.Err() != nil {
				continue
			}
			d.health.receiveFailed()
			d.log.Error().Err(err).Msg("failed to receive messages")
			d.setState(StateIdle)
			select {
			case <-ctx.Done():
			case <-time.After(d.retryDelay):
			}
			continue
		}
		if len(envs) == 0 {
			d.setState(StateIdle)
			select {
			case <-ctx.Done():
			case <-time.After(d.idleDelay):
			}
			continue
		}

		batchCtx := context.WithoutCancel(ctx)
		results := d.ProcessBatch(batchCtx, envs)
		d.acknowledge(batchCtx, results)
		d.setState(StateIdle)
	}
}

// ProcessBatch dispatches envelopes serially and returns one result per envelope.
// No failure in one envelope stops the rest of the batch.
func (d *Dispatcher) ProcessBatch(ctx context.Context, envs []events.Envelope) []Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.setState(StateIdle)

	d.health.received(len(envs))
	d.health.batch(true)
	defer d.health.batch(false)

	if d.sort {
		sorted := append([]events.Envelope(nil), envs...)
		if err := events.SortBySent(sorted); err != nil {
			d.log.Warn().Err(err).Msg("dispatching batch in receipt order")
		} else {
			envs = sorted
		}
	}

	results := make([]Result, 0, len(envs))
	for _, env := range envs {
		result := d.dispatch(ctx, env)
		d.health.dispatched(result)
		results = append(results, result)
	}
	return results
}

func (d *Dispatcher) dispatch(ctx context.Context, env events.Envelope) Result {
	logger := d.log.With().Str("message_id", env.MessageID).Logger()
	result := Result{Envelope: env, Subject: env.Subject}

	d.setState(StateDecoding)
	event, err := events.Decode(env, d.gzip)
	if err != nil {
		result.Outcome = DecodeFailed
		result.Err = err
		var decodeErr *events.DecodeError
		if errors.As(err, &decodeErr) {
			result.Tag = decodeErr.Tag
		}
		logger.Error().Err(err).Str("tag", result.Tag.String()).Msg("failed to decode message")

		d.setState(StateDispatching)
		if herr := d.router.failed(ctx, env, err); herr != nil {
			logger.Error().Err(herr).Msg("decode error handler failed")
			result.Err = errors.Join(err, herr)
			result.Retry = true
		}
		return result
	}

	result.Event = event
	result.Tag = event.Tag()
	if unknown, ok := event.(*events.UnknownEvent); ok {
		result.Subject = unknown.Subject
		result.Outcome = UnknownType
	}
	logger = logger.With().Str("tag", result.Tag.String()).Logger()

	d.setState(StateDispatching)
	if err := d.router.route(ctx, event); err != nil {
		logger.Error().Err(err).Msg("failed to handle message")
		result.Outcome = HandlerFailed
		result.Err = err
		result.Retry = true
		return result
	}

	logger.Debug().Str("outcome", result.Outcome.String()).Msg("dispatched message")
	return result
}

// acknowledge removes every settled message from the source.
func (d *Dispatcher) acknowledge(ctx context.Context, results []Result) {
	for _, result := range results {
		if result.Retry {
			continue
		}
		if err := d.source.Ack(ctx, result.Envelope); err != nil {
			d.health.ackFailed()
			d.log.Error().Err(err).Str("message_id", result.MessageID()).Msg("failed to acknowledge message")
		}
	}
}
