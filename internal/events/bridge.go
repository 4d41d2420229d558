package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/pkg/channel"
	"github.com/dmehra2102/delivery-settlement/pkg/outbox"
)

// NewOutboxMessage encodes ev into an outbox row of the given aggregate. The row type is
// the event's topic, which is what the relay publishes under.
func NewOutboxMessage(aggregateType string, ev Event, traceparent string) (outbox.Message, error) {
	topic, payload, err := Encode(ev)
	if err != nil {
		return outbox.Message{}, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return outbox.Message{
		AggregateType: aggregateType,
		AggregateID:   ev.CorrelationID(),
		Type:          topic,
		Payload:       payload,
		Headers:       map[string]string{"kind": ev.Kind().String()},
		Traceparent:   traceparent,
	}, nil
}

// Bridge republishes payment outcome rows from the outbox onto the Event Channel.
type Bridge struct {
	log *zap.Logger
	ch  channel.Publisher
}

func NewBridge(log *zap.Logger, ch channel.Publisher) *Bridge {
	return &Bridge{log: log, ch: ch}
}

func (b *Bridge) Publish(ctx context.Context, event outbox.Event) error {
	if !IsPaymentOutcome(event.Type) {
		return fmt.Errorf("%w: %q is not a payment outcome topic", outbox.ErrPermanent, event.Type)
	}
	if err := b.ch.Publish(ctx, event.Type, event.Payload); err != nil {
		return err
	}
	b.log.Info("event bridged", zap.Int64("event_id", event.ID), zap.String("topic", event.Type), zap.String("merchant_uid", event.AggregateID))
	return nil
}
