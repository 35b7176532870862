// Package tracing provides OpenTelemetry helpers for AMQP messages.
package tracing

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// StartProducerSpan creates a new span for publishing a message to exchange.
func StartProducerSpan(ctx context.Context, exchange, routingKey string, tracer trace.Tracer) (context.Context, trace.Span) {
	return tracer.Start(ctx, "amqp.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingDestinationName(exchange),
			semconv.MessagingRabbitmqDestinationRoutingKey(routingKey),
			semconv.MessagingOperationPublish,
		),
	)
}

// StartConsumerSpan creates a new span for processing a delivery.
func StartConsumerSpan(ctx context.Context, queue string, d *amqp.Delivery, tracer trace.Tracer) (context.Context, trace.Span) {
	return tracer.Start(ctx, "amqp.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingDestinationName(queue),
			semconv.MessagingRabbitmqDestinationRoutingKey(d.RoutingKey),
			semconv.MessagingOperationReceive,
			semconv.MessagingMessageID(d.MessageId),
		),
	)
}
