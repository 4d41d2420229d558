package channel

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis uses PUBLISH / PSUBSCRIBE, so pattern matching happens in the broker.
type Redis struct {
	log *zap.Logger
	rdb *redis.Client
}

func NewRedis(log *zap.Logger, rdb *redis.Client) *Redis {
	return &Redis{log: log, rdb: rdb}
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, pattern string, h Handler) error {
	ps := r.rdb.PSubscribe(ctx, pattern)
	defer ps.Close()

	// Wait for the subscription confirmation so callers know the listener is live.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe %s: %w", pattern, err)
	}
	r.log.Info("channel subscribed", zap.String("driver", "redis"), zap.String("pattern", pattern))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			h(ctx, Message{Topic: m.Channel, Payload: []byte(m.Payload)})
		}
	}
}

func (r *Redis) Close() error { return nil }
