package channel

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DriverRedis = "redis"
	DriverNATS  = "nats"
)

// Open returns the Channel for driver. The redis client stays owned by the caller; a
// NATS connection is opened here and closed with the Channel.
func Open(log *zap.Logger, driver string, rdb *redis.Client, natsURL, natsPrefix string) (Channel, error) {
	switch driver {
	case DriverRedis, "":
		return NewRedis(log, rdb), nil
	case DriverNATS:
		nc, err := nats.Connect(natsURL, nats.Name("settlement"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		return NewNATS(log, nc, natsPrefix), nil
	}
	return nil, fmt.Errorf("unknown channel driver %q", driver)
}
