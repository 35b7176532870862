package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

func TestEndpointExcluder(t *testing.T) {
	sampler := newEndpointExcluder(map[string]struct{}{"/v1/readiness": {}, "/v1/liveness": {}}, 1)

	tests := []struct {
		name  string
		span  string
		attrs []attribute.KeyValue
		want  sdktrace.SamplingDecision
	}{
		{name: "probe by span name", span: "/v1/liveness", want: sdktrace.Drop},
		{
			name:  "probe by url path",
			span:  "GET",
			attrs: []attribute.KeyValue{attribute.String("url.path", "/v1/readiness")},
			want:  sdktrace.Drop,
		},
		{
			name:  "order route",
			span:  "POST /orders",
			attrs: []attribute.KeyValue{attribute.String("url.path", "/orders")},
			want:  sdktrace.RecordAndSample,
		},
		{name: "consumer span", span: "amqp.consume", want: sdktrace.RecordAndSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sampler.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       trace.TraceID{1},
				Name:          tt.span,
				Attributes:    tt.attrs,
			})
			assert.Equal(t, tt.want, res.Decision)
		})
	}
}

func TestInitTelemetryWithoutExporter(t *testing.T) {
	tel, cleanup, err := InitTelemetry(logger.Noop(), Config{ServiceName: "notification-service", Probability: 1})
	require.NoError(t, err)
	t.Cleanup(func() { cleanup(context.Background()) })

	ctx, span := tel.TracerProvider.Tracer("test").Start(context.Background(), "amqp.consume")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))
}
