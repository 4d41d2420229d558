// Package channel connects the order service to the Event Channel: the Dispatcher routes
// payment outcome events to order reactions and the Notifier publishes order
// notifications.
package channel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	pubsub "github.com/dmehra2102/delivery-settlement/pkg/channel"
	"github.com/dmehra2102/delivery-settlement/pkg/metrics"
)

type Reactions interface {
	ProcessPaymentCompletion(ctx context.Context, merchantUID string) error
	ProcessPaymentFailure(ctx context.Context, merchantUID string) error
	ProcessPaymentCancelSuccess(ctx context.Context, merchantUID string, publisher events.Publisher) error
	ProcessPaymentCancelFailed(ctx context.Context, merchantUID string) error
}

// Dispatcher handles one message at a time. A message that cannot be decoded or whose
// reaction fails is logged and dropped; the listener keeps running.
type Dispatcher struct {
	log    *zap.Logger
	svc    Reactions
	tracer trace.Tracer
}

func NewDispatcher(log *zap.Logger, svc Reactions) *Dispatcher {
	return &Dispatcher{log: log, svc: svc, tracer: otel.Tracer("order-dispatcher")}
}

// Run subscribes to every payment outcome topic and blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, sub pubsub.Subscriber) error {
	d.log.Info("dispatcher listening", zap.String("pattern", events.PaymentTopicPattern))
	return sub.Subscribe(ctx, events.PaymentTopicPattern, d.Handle)
}

func (d *Dispatcher) Handle(ctx context.Context, msg pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.drop(msg, "panic", fmt.Errorf("panic: %v", r))
		}
	}()

	ev, err := events.Decode(msg.Topic, msg.Payload)
	if errors.Is(err, events.ErrUnknownTopic) {
		metrics.Dispatched.WithLabelValues(msg.Topic, "unknown").Inc()
		d.log.Warn("no handler for topic", zap.String("topic", msg.Topic))
		return
	}
	if err != nil {
		d.drop(msg, "malformed", err)
		return
	}

	ctx, span := d.tracer.Start(ctx, "DispatchPaymentEvent", trace.WithAttributes(
		attribute.String("topic", msg.Topic),
		attribute.String("merchant_uid", ev.CorrelationID()),
	))
	defer span.End()

	switch e := ev.(type) {
	case events.PaymentSuccess:
		err = d.svc.ProcessPaymentCompletion(ctx, e.MerchantUID)
	case events.PaymentFailed:
		err = d.svc.ProcessPaymentFailure(ctx, e.MerchantUID)
	case events.PaymentCancelSuccess:
		err = d.svc.ProcessPaymentCancelSuccess(ctx, e.MerchantUID, e.Publisher)
	case events.PaymentCancelFailed:
		err = d.svc.ProcessPaymentCancelFailed(ctx, e.MerchantUID)
	case events.OrderPaymentRequested, events.OrderCancel:
		metrics.Dispatched.WithLabelValues(msg.Topic, "unknown").Inc()
		d.log.Warn("order event on payment channel ignored", zap.String("topic", msg.Topic))
		return
	}
	if err != nil {
		span.RecordError(err)
		d.drop(msg, "error", err)
		return
	}
	metrics.Dispatched.WithLabelValues(msg.Topic, "ok").Inc()
}

func (d *Dispatcher) drop(msg pubsub.Message, outcome string, err error) {
	metrics.Dispatched.WithLabelValues(msg.Topic, outcome).Inc()
	d.log.Error("event dropped",
		zap.String("topic", msg.Topic),
		zap.ByteString("payload", msg.Payload),
		zap.String("outcome", outcome),
		zap.Error(err),
	)
}
