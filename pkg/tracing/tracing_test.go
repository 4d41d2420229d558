package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestKafkaHeaders_RoundTrip(t *testing.T) {
	tp, err := Init(context.Background(), "tracing-test", "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "produce")
	defer span.End()

	headers := InjectKafkaHeaders(ctx, []kafka.Header{{Key: "event_type", Value: []byte("order-cancel-event")}})
	assert.Equal(t, "order-cancel-event", HeaderValue(headers, "event_type"))
	tp1 := HeaderValue(headers, TraceparentHeader)
	require.NotEmpty(t, tp1)
	assert.Equal(t, tp1, Traceparent(ctx))

	// Injecting again replaces rather than duplicates the header.
	headers = InjectKafkaHeaders(ctx, headers)
	n := 0
	for _, h := range headers {
		if h.Key == TraceparentHeader {
			n++
		}
	}
	assert.Equal(t, 1, n)

	got := trace.SpanContextFromContext(ExtractKafkaHeaders(context.Background(), headers))
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestTraceparent_NoSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	assert.Empty(t, Traceparent(context.Background()))
	assert.Empty(t, HeaderValue(nil, TraceparentHeader))
}
