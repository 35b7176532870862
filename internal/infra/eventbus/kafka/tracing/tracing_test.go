package tracing

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeadersCarrier(t *testing.T) {
	h := Headers{{Key: []byte("event_type"), Value: []byte("order.created")}}

	h.Set("event_type", "order.cancelled")
	h.Set("x-attempt", "2")

	assert.Equal(t, "order.cancelled", h.Get("event_type"))
	assert.Equal(t, "", h.Get("missing"))
	assert.ElementsMatch(t, []string{"event_type", "x-attempt"}, h.Keys())
	assert.Equal(t, map[string]string{"event_type": "order.cancelled", "x-attempt": "2"}, h.Map())
}

func TestInjectExtractRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	msg := &sarama.ProducerMessage{Topic: "order_events"}
	Inject(trace.ContextWithSpanContext(context.Background(), sc), msg)
	require.NotEmpty(t, msg.Headers)

	consumed := &sarama.ConsumerMessage{Topic: "order_events"}
	for i := range msg.Headers {
		consumed.Headers = append(consumed.Headers, &msg.Headers[i])
	}
	consumed.Headers = append(consumed.Headers, nil)

	got := trace.SpanContextFromContext(Extract(context.Background(), ConsumedHeaders(consumed)))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
	assert.True(t, got.IsRemote())
}
