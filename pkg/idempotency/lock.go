package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLocked = errors.New("resource is locked")

// unlock deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a single-flight guard backed by Redis SETNX with a TTL.
type Locker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewLocker(rdb *redis.Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Acquire takes the lock for id or returns ErrLocked. The returned func releases it.
func (l *Locker) Acquire(ctx context.Context, id string) (func(), error) {
	key := fmt.Sprintf("%s:%s", l.prefix, id)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// Release with a fresh context; the caller's may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}, nil
}
