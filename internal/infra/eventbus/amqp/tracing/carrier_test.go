package tracing

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var msg amqp.Publishing
	InjectTraceContext(ctx, &msg)
	require.Contains(t, msg.Headers, "traceparent")

	d := amqp.Delivery{Headers: msg.Headers}
	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), &d))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
}

func TestHeaderCarrierGetConvertsValues(t *testing.T) {
	c := HeaderCarrier{"s": "v", "b": []byte("bytes"), "n": int32(3)}
	assert.Equal(t, "v", c.Get("s"))
	assert.Equal(t, "bytes", c.Get("b"))
	assert.Equal(t, "3", c.Get("n"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"s", "b", "n"}, c.Keys())
}

func TestExtractWithoutHeaders(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractTraceContext(ctx, &amqp.Delivery{}))
}
