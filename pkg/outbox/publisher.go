package outbox

import (
	"context"
	"errors"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/pkg/tracing"
)

const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// ErrPermanent marks a dispatch failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent")

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes outbox events to a single Kafka topic keyed by aggregate id.
type KafkaPublisher struct {
	log      *zap.Logger
	producer Producer
	topic    string
}

func NewKafkaPublisher(log *zap.Logger, producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{log: log, producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	headers := make([]kafka.Header, 0, len(event.Headers)+3)

	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: HeaderEventType, Value: []byte(event.Type)},
		kafka.Header{Key: HeaderEventID, Value: []byte(strconv.FormatInt(event.ID, 10))},
	)
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: tracing.TraceparentHeader, Value: []byte(event.Traceparent)})
	} else {
		headers = tracing.InjectKafkaHeaders(ctx, headers)
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("outbox dispatch failed", zap.Int64("event_id", event.ID), zap.Error(err))
		return err
	}
	p.log.Info("outbox dispatched", zap.Int64("event_id", event.ID), zap.String("type", event.Type))
	return nil
}
