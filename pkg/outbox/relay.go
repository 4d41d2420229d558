package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/pkg/metrics"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, permanent bool) error
	ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error
	// Release returns claimed rows to pending without spending a retry.
	Release(ctx context.Context, relayID string, ids []int64) error
}

type Relay struct {
	log       *zap.Logger
	store     Store
	publisher Publisher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option { return func(r *Relay) { r.interval = d } }
func WithBatchSize(n int) Option          { return func(r *Relay) { r.batchSize = n } }
func WithLease(d time.Duration) Option    { return func(r *Relay) { r.lease = d } }

func NewRelay(log *zap.Logger, store Store, publisher Publisher, relayID string, opts ...Option) *Relay {
	r := &Relay{
		log:       log,
		store:     store,
		publisher: publisher,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", zap.String("relay_id", r.relayID))
			return nil
		case <-t.C:
			if _, err := r.Tick(ctx); err != nil {
				r.log.Error("relay tick error", zap.String("relay_id", r.relayID), zap.Error(err))
			}
		}
	}
}

// Tick locks one batch, publishes it and records the outcome. It returns the number
// of events published. After a retryable failure the rest of that aggregate's rows are
// released untouched, so they go out after the failed row and in order.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	locked := time.Now()
	ids := make([]int64, 0, len(events))
	var held []int64
	blocked := map[string]bool{}
	for i, e := range events {
		if blocked[e.AggregateID] {
			held = append(held, e.ID)
			continue
		}

		if time.Since(locked) > r.lease/2 {
			if err := r.store.ExtendLease(ctx, r.relayID, remaining(events[i:]), r.lease); err != nil {
				r.log.Warn("relay extend lease failed", zap.Error(err))
			}
			locked = time.Now()
		}

		if err := r.publisher.Publish(ctx, e); err != nil {
			metrics.OutboxFailed.WithLabelValues(e.AggregateType, e.Type).Inc()
			permanent := errors.Is(err, ErrPermanent)
			if mErr := r.store.MarkFailed(ctx, e.ID, err.Error(), permanent); mErr != nil {
				r.log.Error("relay mark failed error", zap.Int64("event_id", e.ID), zap.Error(mErr))
			}
			if !permanent {
				blocked[e.AggregateID] = true
			}
			continue
		}
		metrics.OutboxPublished.WithLabelValues(e.AggregateType, e.Type).Inc()
		ids = append(ids, e.ID)
	}
	if len(held) > 0 {
		if err := r.store.Release(ctx, r.relayID, held); err != nil {
			r.log.Warn("relay release failed", zap.Int64s("event_ids", held), zap.Error(err))
		}
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return len(ids), err
		}
	}
	return len(ids), nil
}

func remaining(events []Event) []int64 {
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}
