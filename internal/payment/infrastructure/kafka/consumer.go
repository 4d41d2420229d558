package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/payment/domain"
	"github.com/dmehra2102/delivery-settlement/pkg/idempotency"
	"github.com/dmehra2102/delivery-settlement/pkg/outbox"
	"github.com/dmehra2102/delivery-settlement/pkg/tracing"
)

const (
	retryBackoff = 200 * time.Millisecond
	maxBackoff   = 5 * time.Second
)

type PaymentService interface {
	ConfirmPayment(ctx context.Context, paymentKey, merchantUID string, orderAmount int64) error
	CancelPayment(ctx context.Context, merchantUID, reason string, publisher events.Publisher) error
}

type Consumer struct {
	log    *zap.Logger
	reader *kafka.Reader
	svc    PaymentService
	idem   *idempotency.Store
	tracer trace.Tracer

	// backoff is the first retry delay; it grows linearly up to maxBackoff.
	backoff time.Duration
}

func NewConsumer(log *zap.Logger, brokers []string, topic, group string, svc PaymentService, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:     log,
		reader:  r,
		svc:     svc,
		idem:    idem,
		tracer:  otel.Tracer("payment-consumer"),
		backoff: retryBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := c.process(ctx, msg); err != nil {
			// Shutting down mid-retry: leave the offset uncommitted so the group redelivers.
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process retries Handle until it succeeds or ctx is done. The message is safe to commit
// only when it returns nil.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := c.Handle(ctx, msg)
		if err == nil {
			return nil
		}
		delay := min(time.Duration(attempt)*c.backoff, maxBackoff)
		c.log.Warn("retrying order event", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Handle processes one order event. It returns an error only when handling failed for
// a reason worth retrying; business failures are logged and final.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	key := c.key(msg)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", zap.String("key", key), zap.Error(err))
		return err
	}
	if seen {
		c.log.Info("duplicate message skipped", zap.String("key", key))
		return nil
	}

	topic := tracing.HeaderValue(msg.Headers, outbox.HeaderEventType)
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeOrderEvent", trace.WithAttributes(attribute.String("event_type", topic)))
	defer span.End()

	ev, err := events.Decode(topic, msg.Value)
	if err != nil {
		c.log.Error("decode failed", zap.String("event_type", topic), zap.ByteString("payload", msg.Value), zap.Error(err))
		return nil
	}

	switch e := ev.(type) {
	case events.OrderPaymentRequested:
		err = c.svc.ConfirmPayment(msgCtx, e.PaymentKey, e.Order.MerchantUID, e.Order.TotalPrice)
	case events.OrderCancel:
		err = c.svc.CancelPayment(msgCtx, e.Order.MerchantUID, e.Reason, e.Publisher)
	default:
		c.log.Warn("event not handled by payment service", zap.String("event_type", topic))
		return nil
	}

	if err != nil {
		span.RecordError(err)
		c.log.Error("payment event failed", zap.String("event_type", topic), zap.String("merchant_uid", ev.CorrelationID()), zap.Error(err))
		if !retryable(err) {
			return nil
		}
		// Forget the key so the retry, or a redelivery of the same outbox row, gets through.
		_ = c.idem.Forget(ctx, key)
		return err
	}
	c.log.Info("payment event processed", zap.String("event_type", topic), zap.String("merchant_uid", ev.CorrelationID()))
	return nil
}

func (c *Consumer) key(msg kafka.Message) string {
	if id := tracing.HeaderValue(msg.Headers, outbox.HeaderEventID); id != "" {
		return c.idem.EventKey(msg.Topic, id)
	}
	return c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
}

// retryable separates infrastructure failures from business outcomes already recorded
// in the ledger.
func retryable(err error) bool {
	for _, final := range []error{
		domain.ErrPaymentNotFound,
		domain.ErrAmountMismatch,
		domain.ErrPaymentKeyMismatch,
		domain.ErrGatewayMismatch,
		domain.ErrUnsupportedPartialCancel,
		domain.ErrInvalidTransition,
	} {
		if errors.Is(err, final) {
			return false
		}
	}
	return true
}
