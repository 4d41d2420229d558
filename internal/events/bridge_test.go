package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/pkg/outbox"
)

type recordingPublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestNewOutboxMessage(t *testing.T) {
	msg, err := NewOutboxMessage("payment", PaymentFailed{MerchantUID: "m1"}, "00-abc-def-01")
	require.NoError(t, err)

	assert.Equal(t, "payment", msg.AggregateType)
	assert.Equal(t, "m1", msg.AggregateID)
	assert.Equal(t, TopicPaymentFailed, msg.Type)
	assert.JSONEq(t, `{"merchantUid":"m1"}`, string(msg.Payload))
	assert.Equal(t, "PaymentFailed", msg.Headers["kind"])
	assert.Equal(t, "00-abc-def-01", msg.Traceparent)
}

func TestBridge_PublishesPaymentOutcomes(t *testing.T) {
	pub := &recordingPublisher{}
	b := NewBridge(zap.NewNop(), pub)

	err := b.Publish(context.Background(), outbox.Event{ID: 1, Message: outbox.Message{AggregateID: "m1", Type: TopicPaymentCompleted, Payload: []byte(`{"merchantUid":"m1"}`)}})
	require.NoError(t, err)
	assert.Equal(t, []string{TopicPaymentCompleted}, pub.topics)
	assert.Equal(t, `{"merchantUid":"m1"}`, string(pub.payloads[0]))
}

func TestBridge_RejectsOrderTopicsPermanently(t *testing.T) {
	pub := &recordingPublisher{}
	b := NewBridge(zap.NewNop(), pub)

	err := b.Publish(context.Background(), outbox.Event{ID: 2, Message: outbox.Message{Type: TopicOrderCancel}})
	require.ErrorIs(t, err, outbox.ErrPermanent)
	assert.Empty(t, pub.topics)
}

func TestBridge_TransportErrorIsRetryable(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection refused")}
	b := NewBridge(zap.NewNop(), pub)

	err := b.Publish(context.Background(), outbox.Event{ID: 3, Message: outbox.Message{Type: TopicPaymentFailed}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, outbox.ErrPermanent)
}
