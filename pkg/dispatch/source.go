package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/devicehub/sdk-go/pkg/events"
)

// ErrSourceDrained is returned by a source that will never deliver another envelope.
var ErrSourceDrained = errors.New("event source drained")

// Source delivers envelopes and accepts acknowledgements for processed ones.
type Source interface {
	Receive(ctx context.Context, max int) ([]events.Envelope, error)
	Ack(ctx context.Context, env events.Envelope) error
}

// SliceSource serves fixed batches from memory.
type SliceSource struct {
	mu      sync.Mutex
	batches [][]events.Envelope
	acked   []string
}

func NewSliceSource(batches ...[]events.Envelope) *SliceSource {
	return &SliceSource{batches: batches}
}

// Receive returns up to max envelopes of the next batch.
func (s *SliceSource) Receive(ctx context.Context, max int) ([]events.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.batches) == 0 {
		return nil, ErrSourceDrained
	}

	batch := s.batches[0]
	if max > 0 && len(batch) > max {
		s.batches[0] = batch[max:]
		return batch[:max], nil
	}
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *SliceSource) Ack(ctx context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acked = append(s.acked, env.MessageID)
	return nil
}

// Acked lists acknowledged message ids in acknowledgement order.
func (s *SliceSource) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.acked...)
}
