package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failure struct {
	id        int64
	permanent bool
}

type memStore struct {
	mu       sync.Mutex
	pending  []Event
	sent     []int64
	failed   []failure
	extended [][]int64
	released []int64
	lockErr  error
}

func (s *memStore) LockBatch(_ context.Context, relayID string, batchSize int, _ time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	n := min(batchSize, len(s.pending))
	batch := append([]Event(nil), s.pending[:n]...)
	s.pending = s.pending[n:]
	for i := range batch {
		batch[i].Status = StatusInProgress
		batch[i].RelayID = relayID
	}
	return batch, nil
}

func (s *memStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id int64, _ string, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, failure{id, permanent})
	return nil
}

func (s *memStore) ExtendLease(_ context.Context, _ string, ids []int64, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extended = append(s.extended, ids)
	return nil
}

func (s *memStore) Release(_ context.Context, _ string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, ids...)
	return nil
}

type scriptedPublisher struct {
	mu    sync.Mutex
	seen  []int64
	errs  map[int64]error
	delay time.Duration
}

func (p *scriptedPublisher) Publish(_ context.Context, e Event) error {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, e.ID)
	return p.errs[e.ID]
}

func batchOf(ids ...int64) []Event {
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, Event{ID: id, Message: Message{AggregateType: "payment", AggregateID: fmt.Sprintf("m%d", id), Type: "payment-completed-event"}})
	}
	return out
}

// rowsFor builds a batch whose rows belong to the given aggregates, in order.
func rowsFor(aggregateIDs ...string) []Event {
	out := make([]Event, 0, len(aggregateIDs))
	for i, agg := range aggregateIDs {
		out = append(out, Event{ID: int64(i + 1), Message: Message{AggregateType: "payment", AggregateID: agg, Type: "payment-completed-event"}})
	}
	return out
}

func TestRelay_Tick(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes in order and marks sent", func(t *testing.T) {
		store := &memStore{pending: batchOf(1, 2, 3)}
		pub := &scriptedPublisher{}
		r := NewRelay(zap.NewNop(), store, pub, "r1")

		n, err := r.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []int64{1, 2, 3}, pub.seen)
		assert.Equal(t, []int64{1, 2, 3}, store.sent)
		assert.Empty(t, store.failed)
	})

	t.Run("failed publish does not block the rest of the batch", func(t *testing.T) {
		store := &memStore{pending: batchOf(1, 2, 3)}
		pub := &scriptedPublisher{errs: map[int64]error{
			1: errors.New("broker down"),
			2: fmt.Errorf("%w: bad topic", ErrPermanent),
		}}
		r := NewRelay(zap.NewNop(), store, pub, "r1")

		n, err := r.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []int64{3}, store.sent)
		assert.Equal(t, []failure{{1, false}, {2, true}}, store.failed)
	})

	t.Run("retryable failure holds back later rows of the same aggregate", func(t *testing.T) {
		store := &memStore{pending: rowsFor("m1", "m2", "m1", "m1")}
		pub := &scriptedPublisher{errs: map[int64]error{1: errors.New("redis down")}}
		r := NewRelay(zap.NewNop(), store, pub, "r1")

		n, err := r.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []int64{1, 2}, pub.seen, "m1 rows after the failure are not published")
		assert.Equal(t, []int64{2}, store.sent)
		assert.Equal(t, []failure{{1, false}}, store.failed)
		assert.Equal(t, []int64{3, 4}, store.released)
	})

	t.Run("permanent failure does not hold back the aggregate", func(t *testing.T) {
		store := &memStore{pending: rowsFor("m1", "m1")}
		pub := &scriptedPublisher{errs: map[int64]error{1: fmt.Errorf("%w: bad topic", ErrPermanent)}}
		r := NewRelay(zap.NewNop(), store, pub, "r1")

		n, err := r.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []int64{2}, store.sent)
		assert.Empty(t, store.released)
	})

	t.Run("respects batch size", func(t *testing.T) {
		store := &memStore{pending: batchOf(1, 2, 3)}
		r := NewRelay(zap.NewNop(), store, &scriptedPublisher{}, "r1", WithBatchSize(2))

		n, err := r.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Len(t, store.pending, 1)
	})

	t.Run("empty batch", func(t *testing.T) {
		store := &memStore{}
		n, err := NewRelay(zap.NewNop(), store, &scriptedPublisher{}, "r1").Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("lock error", func(t *testing.T) {
		store := &memStore{lockErr: errors.New("pool closed")}
		_, err := NewRelay(zap.NewNop(), store, &scriptedPublisher{}, "r1").Tick(ctx)
		require.Error(t, err)
	})

	t.Run("slow batch extends the lease of unpublished rows", func(t *testing.T) {
		store := &memStore{pending: batchOf(1, 2, 3)}
		pub := &scriptedPublisher{delay: 15 * time.Millisecond}
		r := NewRelay(zap.NewNop(), store, pub, "r1", WithLease(20*time.Millisecond))

		_, err := r.Tick(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, store.extended)
		assert.NotContains(t, store.extended[0], int64(1))
	})
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := &memStore{pending: batchOf(1)}
	pub := &scriptedPublisher{}
	r := NewRelay(zap.NewNop(), store, pub, "r1", WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
