package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/pkg/tracing"
)

type captureProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *captureProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	prod := &captureProducer{}
	pub := NewKafkaPublisher(zap.NewNop(), prod, "order.events")

	err := pub.Publish(context.Background(), Event{
		ID: 17,
		Message: Message{
			AggregateID: "m1",
			Type:        "order-cancel-event",
			Payload:     []byte(`{"reason":"x"}`),
			Headers:     map[string]string{"kind": "OrderCancel"},
			Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		},
	})
	require.NoError(t, err)
	require.Len(t, prod.msgs, 1)

	msg := prod.msgs[0]
	assert.Equal(t, "order.events", msg.Topic)
	assert.Equal(t, "m1", string(msg.Key))
	assert.Equal(t, `{"reason":"x"}`, string(msg.Value))
	assert.Equal(t, "order-cancel-event", tracing.HeaderValue(msg.Headers, HeaderEventType))
	assert.Equal(t, "17", tracing.HeaderValue(msg.Headers, HeaderEventID))
	assert.Equal(t, "OrderCancel", tracing.HeaderValue(msg.Headers, "kind"))
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", tracing.HeaderValue(msg.Headers, tracing.TraceparentHeader))
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	pub := NewKafkaPublisher(zap.NewNop(), &captureProducer{err: errors.New("leader not available")}, "order.events")
	require.Error(t, pub.Publish(context.Background(), Event{ID: 1}))
}
