package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devicehub/sdk-go/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func heartbeat(t *testing.T, id string, offset time.Duration) events.Envelope {
	t.Helper()
	event := &events.HeartbeatEvent{
		Header:    events.Header{EventID: "evt-" + id, EventTime: baseTime, ReceivedTime: baseTime},
		DeviceID:  "dev-" + id,
		Timestamp: baseTime,
	}
	env, err := events.NewEnvelope(id, event, events.FormatXML, false, baseTime.Add(offset))
	require.NoError(t, err)
	return env
}

func aggregate(t *testing.T, id string) events.Envelope {
	t.Helper()
	event := &events.AggregateEvent{
		Header:    events.Header{EventID: "evt-" + id, EventTime: baseTime, ReceivedTime: baseTime},
		DeviceID:  "dev-" + id,
		AddedEPCs: []string{"EPC-1"},
		PassID:    "pass-" + id,
	}
	env, err := events.NewEnvelope(id, event, events.FormatJSON, false, baseTime)
	require.NoError(t, err)
	return env
}

func corrupt(t *testing.T, id string) events.Envelope {
	t.Helper()
	env, err := events.WrapPayload(id, "HeartbeatEvent", []byte("<HeartbeatEvent><Header>"), false, baseTime)
	require.NoError(t, err)
	return env
}

func withSubject(t *testing.T, id string, subject string) events.Envelope {
	t.Helper()
	env, err := events.WrapPayload(id, subject, []byte("<Anything/>"), false, baseTime)
	require.NoError(t, err)
	return env
}

func confirmation(t *testing.T, id string) events.Envelope {
	t.Helper()
	body, err := json.Marshal(events.Notification{
		Type:         "SubscriptionConfirmation",
		MessageID:    id,
		Message:      "confirm",
		SubscribeURL: "https://example.com/confirm",
	})
	require.NoError(t, err)
	return events.Envelope{
		MessageID: id,
		Subject:   "AWS Notification - Subscription Confirmation",
		Message:   string(body),
	}
}

// recorder collects the message ids each handler saw, in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(kind string, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, kind+":"+id)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func recordingRouter(rec *recorder) *Router {
	return NewRouter().
		Handle(events.TagHeartbeat, On(func(ctx context.Context, e *events.HeartbeatEvent) error {
			rec.add("heartbeat", e.Header.EventID)
			return nil
		})).
		Handle(events.TagAggregate, On(func(ctx context.Context, e *events.AggregateEvent) error {
			rec.add("aggregate", e.Header.EventID)
			return nil
		})).
		HandleUnknown(func(ctx context.Context, e *events.UnknownEvent) error {
			rec.add("unknown", e.Subject)
			return nil
		}).
		HandleControl(func(ctx context.Context, e *events.SubscriptionConfirmation) error {
			rec.add("control", e.Notification.MessageID)
			return nil
		}).
		HandleDecodeError(func(ctx context.Context, env events.Envelope, err error) error {
			rec.add("decode_error", env.MessageID)
			return nil
		})
}

func outcomes(results []Result) []Outcome {
	var out []Outcome
	for _, r := range results {
		out = append(out, r.Outcome)
	}
	return out
}

func quiet() Option {
	return WithLogger(zerolog.Nop())
}

func TestProcessBatchIsolatesCorruptMessage(t *testing.T) {
	rec := &recorder{}
	d := New(nil, recordingRouter(rec), quiet())

	results := d.ProcessBatch(context.Background(), []events.Envelope{
		heartbeat(t, "1", 0),
		corrupt(t, "2"),
		heartbeat(t, "3", 0),
	})

	require.Len(t, results, 3)
	assert.Equal(t, []Outcome{Handled, DecodeFailed, Handled}, outcomes(results))
	assert.Equal(t, []string{"heartbeat:evt-1", "decode_error:2", "heartbeat:evt-3"}, rec.all())

	failed := results[1]
	var decodeErr *events.DecodeError
	require.ErrorAs(t, failed.Err, &decodeErr)
	assert.Equal(t, events.StagePayload, decodeErr.Stage)
	assert.Equal(t, events.TagHeartbeat, failed.Tag)
	assert.Equal(t, "2", failed.MessageID())
	assert.NotEmpty(t, failed.RawBody())
	assert.False(t, failed.Retry)
}

func TestProcessBatchUnknownSubject(t *testing.T) {
	rec := &recorder{}
	d := New(nil, recordingRouter(rec), quiet())

	results := d.ProcessBatch(context.Background(), []events.Envelope{
		withSubject(t, "1", "totally-unrecognized"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, UnknownType, results[0].Outcome)
	assert.Equal(t, "totally-unrecognized", results[0].Subject)
	assert.Equal(t, []string{"unknown:totally-unrecognized"}, rec.all())
}

func TestProcessBatchControlMessage(t *testing.T) {
	rec := &recorder{}
	d := New(nil, recordingRouter(rec), quiet(), WithGzip(true))

	results := d.ProcessBatch(context.Background(), []events.Envelope{confirmation(t, "c-1")})

	require.Len(t, results, 1)
	assert.Equal(t, Handled, results[0].Outcome)
	assert.Equal(t, events.TagSubscriptionConfirmation, results[0].Tag)
	assert.Equal(t, []string{"control:c-1"}, rec.all())
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	rec := &recorder{}
	d := New(nil, recordingRouter(rec), quiet())

	// C was sent first but delivered last
	d.ProcessBatch(context.Background(), []events.Envelope{
		heartbeat(t, "A", 2*time.Second),
		aggregate(t, "B"),
		heartbeat(t, "C", -time.Minute),
	})

	assert.Equal(t, []string{"heartbeat:evt-A", "aggregate:evt-B", "heartbeat:evt-C"}, rec.all())
}

func TestProcessBatchSorted(t *testing.T) {
	rec := &recorder{}
	d := New(nil, recordingRouter(rec), quiet(), WithSort(true))

	input := []events.Envelope{
		heartbeat(t, "A", 2*time.Second),
		heartbeat(t, "B", time.Second),
		heartbeat(t, "C", -time.Minute),
	}
	d.ProcessBatch(context.Background(), input)

	assert.Equal(t, []string{"heartbeat:evt-C", "heartbeat:evt-B", "heartbeat:evt-A"}, rec.all())
	assert.Equal(t, "A", input[0].MessageID, "input slice must not be reordered")
}

func TestProcessBatchSortFallsBackToReceiptOrder(t *testing.T) {
	rec := &recorder{}
	d := New(nil, recordingRouter(rec), quiet(), WithSort(true))

	missing := heartbeat(t, "B", 0)
	delete(missing.Attributes, events.AttributeSentTimestamp)

	d.ProcessBatch(context.Background(), []events.Envelope{
		heartbeat(t, "A", time.Minute),
		missing,
		heartbeat(t, "C", 0),
	})

	assert.Equal(t, []string{"heartbeat:evt-A", "heartbeat:evt-B", "heartbeat:evt-C"}, rec.all())
}

func TestProcessBatchHandlerFailures(t *testing.T) {
	calls := 0
	router := NewRouter().
		Handle(events.TagHeartbeat, On(func(ctx context.Context, e *events.HeartbeatEvent) error {
			calls++
			switch e.DeviceID {
			case "dev-1":
				return errors.New("device store unavailable")
			case "dev-2":
				panic("nil map")
			}
			return nil
		}))
	d := New(nil, router, quiet())

	results := d.ProcessBatch(context.Background(), []events.Envelope{
		heartbeat(t, "1", 0),
		heartbeat(t, "2", 0),
		heartbeat(t, "3", 0),
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, []Outcome{HandlerFailed, HandlerFailed, Handled}, outcomes(results))

	var handlerErr *HandlerError
	require.ErrorAs(t, results[0].Err, &handlerErr)
	assert.Equal(t, events.TagHeartbeat, handlerErr.Tag)
	assert.True(t, results[0].Retry)

	require.ErrorAs(t, results[1].Err, &handlerErr)
	assert.Contains(t, handlerErr.Error(), "panic: nil map")
	assert.True(t, results[1].Retry)
	assert.False(t, results[2].Retry)
}

func TestProcessBatchDefaultHandlersAreNoops(t *testing.T) {
	d := New(nil, nil, quiet())

	results := d.ProcessBatch(context.Background(), []events.Envelope{
		heartbeat(t, "1", 0),
		withSubject(t, "2", "Nope"),
		confirmation(t, "3"),
		corrupt(t, "4"),
	})

	assert.Equal(t, []Outcome{Handled, UnknownType, Handled, DecodeFailed}, outcomes(results))
	for _, r := range results {
		assert.False(t, r.Retry)
	}
}

func TestRouterTaps(t *testing.T) {
	rec := &recorder{}
	router := recordingRouter(rec).
		Use(func(ctx context.Context, event events.Event) error {
			rec.add("tap", event.EventHeader().EventID)
			return nil
		}).
		Use(func(ctx context.Context, event events.Event) error {
			return errors.New("sink down")
		})
	d := New(nil, router, quiet())

	results := d.ProcessBatch(context.Background(), []events.Envelope{
		heartbeat(t, "1", 0),
		withSubject(t, "2", "Nope"),
	})

	assert.Equal(t, []Outcome{HandlerFailed, UnknownType}, outcomes(results))
	assert.ErrorContains(t, results[0].Err, "sink down")
	assert.Equal(t, []string{"heartbeat:evt-1", "tap:evt-1", "unknown:Nope"}, rec.all())
}

func TestRouterRejectsDedicatedTags(t *testing.T) {
	assert.Panics(t, func() { NewRouter().Handle(events.TagUnknown, nil) })
	assert.Panics(t, func() { NewRouter().Handle(events.TagSubscriptionConfirmation, nil) })
}

func TestOnWrongType(t *testing.T) {
	handler := On(func(ctx context.Context, e *events.ObjectEvent) error { return nil })
	err := handler(context.Background(), &events.HeartbeatEvent{})
	assert.ErrorIs(t, err, ErrUnexpectedEvent)
}

func TestProcessBatchOverlappingCallsDoNotInterleave(t *testing.T) {
	rec := &recorder{}
	router := NewRouter().Handle(events.TagHeartbeat, On(func(ctx context.Context, e *events.HeartbeatEvent) error {
		time.Sleep(5 * time.Millisecond)
		rec.add("heartbeat", e.Header.EventID)
		return nil
	}))
	d := New(nil, router, quiet())

	batches := [][]events.Envelope{
		{heartbeat(t, "a1", 0), heartbeat(t, "a2", 0), heartbeat(t, "a3", 0)},
		{heartbeat(t, "b1", 0), heartbeat(t, "b2", 0), heartbeat(t, "b3", 0)},
	}

	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ProcessBatch(context.Background(), batch)
		}()
	}
	wg.Wait()

	calls := rec.all()
	require.Len(t, calls, 6)
	a := []string{"heartbeat:evt-a1", "heartbeat:evt-a2", "heartbeat:evt-a3"}
	b := []string{"heartbeat:evt-b1", "heartbeat:evt-b2", "heartbeat:evt-b3"}
	if calls[0] == a[0] {
		assert.Equal(t, append(a, b...), calls)
	} else {
		assert.Equal(t, append(b, a...), calls)
	}
	assert.Equal(t, StateIdle, d.State())
}

func TestProcessBatchReturnsToIdle(t *testing.T) {
	d := New(nil, nil, quiet())

	d.ProcessBatch(context.Background(), []events.Envelope{heartbeat(t, "1", 0), corrupt(t, "2")})
	assert.Equal(t, StateIdle, d.State())
}

func TestRunPausesOnEmptyReceive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	source := &emptySource{}
	d := New(source, nil, quiet(), WithIdleDelay(50*time.Millisecond))

	require.NoError(t, d.Run(ctx))
	assert.LessOrEqual(t, int(source.receives.Load()), 4)
	assert.GreaterOrEqual(t, int(source.receives.Load()), 1)
}

func TestRunAcknowledgesSettledMessages(t *testing.T) {
	failing := heartbeat(t, "fail", 0)
	source := NewSliceSource(
		[]events.Envelope{heartbeat(t, "1", 0), corrupt(t, "2")},
		[]events.Envelope{failing, withSubject(t, "3", "Nope")},
	)
	router := NewRouter().
		Handle(events.TagHeartbeat, On(func(ctx context.Context, e *events.HeartbeatEvent) error {
			if e.DeviceID == "dev-fail" {
				return errors.New("boom")
			}
			return nil
		}))
	d := New(source, router, quiet())

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []string{"1", "2", "3"}, source.Acked())
	assert.Equal(t, StateIdle, d.State())
}

func TestRunLeavesMessageWhenDecodeHandlerFails(t *testing.T) {
	source := NewSliceSource([]events.Envelope{corrupt(t, "1")})
	router := NewRouter().HandleDecodeError(func(ctx context.Context, env events.Envelope, err error) error {
		return errors.New("archive unavailable")
	})
	d := New(source, router, quiet())

	require.NoError(t, d.Run(context.Background()))
	assert.Empty(t, source.Acked())
}

func TestRunFinishesBatchOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	router := NewRouter().Handle(events.TagHeartbeat, On(func(ctx context.Context, e *events.HeartbeatEvent) error {
		seen = append(seen, e.DeviceID)
		cancel()
		assert.NoError(t, ctx.Err(), "handlers must not see the shutdown")
		return nil
	}))
	source := NewSliceSource(
		[]events.Envelope{heartbeat(t, "1", 0), heartbeat(t, "2", 0), heartbeat(t, "3", 0)},
		[]events.Envelope{heartbeat(t, "4", 0)},
	)
	d := New(source, router, quiet())

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []string{"dev-1", "dev-2", "dev-3"}, seen)
	assert.Equal(t, []string{"1", "2", "3"}, source.Acked())
}

func TestRunRespectsBatchSize(t *testing.T) {
	var batch []events.Envelope
	for i := range 5 {
		batch = append(batch, heartbeat(t, strconv.Itoa(i), 0))
	}
	source := &countingSource{SliceSource: NewSliceSource(batch)}
	d := New(source, nil, quiet(), WithBatchSize(2))

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []int{2, 2, 1}, source.sizes)
	assert.Len(t, source.Acked(), 5)
}

func TestWithBatchSizeClamps(t *testing.T) {
	assert.Equal(t, 1, New(nil, nil, WithBatchSize(0)).batchSize)
	assert.Equal(t, MaxBatchSize, New(nil, nil, WithBatchSize(50)).batchSize)
	assert.Equal(t, 4, New(nil, nil, WithBatchSize(4)).batchSize)
}

func TestRunRetriesAfterReceiveError(t *testing.T) {
	source := &flakySource{SliceSource: NewSliceSource([]events.Envelope{heartbeat(t, "1", 0)}), failures: 2}
	reg := prometheus.NewRegistry()
	health := NewHealth(reg)
	d := New(source, nil, quiet(), WithRetryDelay(time.Millisecond), WithHealth(health))

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []string{"1"}, source.Acked())
	assert.Equal(t, float64(2), testutil.ToFloat64(health.ReceiveFailures))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := NewSliceSource([]events.Envelope{heartbeat(t, "1", 0)})
	d := New(source, nil, quiet())

	require.NoError(t, d.Run(ctx))
	assert.Empty(t, source.Acked())
}

func TestHealthCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	health := NewHealth(reg)
	source := &failingAckSource{SliceSource: NewSliceSource([]events.Envelope{
		heartbeat(t, "1", 0),
		corrupt(t, "2"),
		withSubject(t, "3", "Nope"),
	})}
	d := New(source, nil, quiet(), WithHealth(health))

	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, float64(3), testutil.ToFloat64(health.Received))
	assert.Equal(t, float64(1), testutil.ToFloat64(health.Dispatched.WithLabelValues("handled", "HeartbeatEvent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(health.Dispatched.WithLabelValues("decode_failed", "HeartbeatEvent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(health.Dispatched.WithLabelValues("unknown_type", "Unknown")))
	assert.Equal(t, float64(3), testutil.ToFloat64(health.AckFailures))
	assert.Equal(t, float64(0), testutil.ToFloat64(health.BatchInProgress))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "decoding", StateDecoding.String())
	assert.Equal(t, "dispatching", StateDispatching.String())
	assert.Equal(t, "invalid", Outcome(42).String())
}

type countingSource struct {
	*SliceSource
	sizes []int
}

func (s *countingSource) Receive(ctx context.Context, max int) ([]events.Envelope, error) {
	envs, err := s.SliceSource.Receive(ctx, max)
	if err == nil {
		s.sizes = append(s.sizes, len(envs))
	}
	return envs, err
}

type flakySource struct {
	*SliceSource
	failures int
}

func (s *flakySource) Receive(ctx context.Context, max int) ([]events.Envelope, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("connection reset")
	}
	return s.SliceSource.Receive(ctx, max)
}

type failingAckSource struct {
	*SliceSource
}

func (s *failingAckSource) Ack(ctx context.Context, env events.Envelope) error {
	return errors.New("receipt handle expired")
}

type emptySource struct {
	receives atomic.Int32
}

func (s *emptySource) Receive(ctx context.Context, max int) ([]events.Envelope, error) {
	s.receives.Add(1)
	return nil, nil
}

func (s *emptySource) Ack(ctx context.Context, env events.Envelope) error {
	return nil
}
