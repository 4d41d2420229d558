package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter returns the producer the order relay publishes order events with. The topic
// is chosen per message by outbox.KafkaPublisher.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}
