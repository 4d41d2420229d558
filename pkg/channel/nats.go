package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subjects are dot-separated and their wildcards do not cover hyphenated topic
// names, so every topic lives under one subject prefix and patterns are matched here.
type NATS struct {
	log    *zap.Logger
	nc     *nats.Conn
	prefix string
}

func NewNATS(log *zap.Logger, nc *nats.Conn, prefix string) *NATS {
	return &NATS{log: log, nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

func (n *NATS) subject(topic string) string { return n.prefix + "." + topic }

func (n *NATS) Publish(_ context.Context, topic string, payload []byte) error {
	if err := n.nc.Publish(n.subject(topic), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, pattern string, h Handler) error {
	msgs := make(chan *nats.Msg, 256)
	sub, err := n.nc.ChanSubscribe(n.prefix+".*", msgs)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", pattern, err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	n.log.Info("channel subscribed", zap.String("driver", "nats"), zap.String("pattern", pattern))

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgs:
			topic := strings.TrimPrefix(m.Subject, n.prefix+".")
			if !Match(pattern, topic) {
				continue
			}
			h(ctx, Message{Topic: topic, Payload: m.Data})
		}
	}
}

func (n *NATS) Close() error {
	n.nc.Close()
	return nil
}
