// Package channel is the named publish/subscribe transport that carries serialized
// events between services. Delivery is at-least-once only when the publisher retries
// (see pkg/outbox); missed messages are not persisted.
package channel

import (
	"context"
	"path"
)

type Message struct {
	Topic   string
	Payload []byte
}

// Handler is invoked once per delivered message on the subscriber goroutine.
type Handler func(ctx context.Context, msg Message)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Subscriber interface {
	// Subscribe delivers every message whose topic matches pattern until ctx is done.
	Subscribe(ctx context.Context, pattern string, h Handler) error
}

type Channel interface {
	Publisher
	Subscriber
	Close() error
}

// Match reports whether topic matches a glob pattern such as "payment-*-event".
func Match(pattern, topic string) bool {
	ok, err := path.Match(pattern, topic)
	return err == nil && ok
}
