// Package tracing carries OpenTelemetry context across Kafka records.
package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/events"
)

// Headers is a propagation.TextMapCarrier over a record's headers.
type Headers []sarama.RecordHeader

// ConsumedHeaders copies the non-nil headers of msg.
func ConsumedHeaders(msg *sarama.ConsumerMessage) Headers {
	h := make(Headers, 0, len(msg.Headers))
	for _, rh := range msg.Headers {
		if rh != nil {
			h = append(h, *rh)
		}
	}
	return h
}

func (h *Headers) Get(key string) string {
	for _, rh := range *h {
		if string(rh.Key) == key {
			return string(rh.Value)
		}
	}
	return ""
}

// Set replaces any existing header with the same key.
func (h *Headers) Set(key, value string) {
	for i, rh := range *h {
		if string(rh.Key) == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (h *Headers) Keys() []string {
	keys := make([]string, len(*h))
	for i, rh := range *h {
		keys[i] = string(rh.Key)
	}
	return keys
}

// Map flattens the headers. Later duplicates win.
func (h Headers) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, rh := range h {
		m[string(rh.Key)] = string(rh.Value)
	}
	return m
}

// Inject writes the span context of ctx into msg's headers.
func Inject(ctx context.Context, msg *sarama.ProducerMessage) {
	h := Headers(msg.Headers)
	otel.GetTextMapPropagator().Inject(ctx, &h)
	msg.Headers = h
}

// Extract returns ctx carrying the span context found in headers.
func Extract(ctx context.Context, headers Headers) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, &headers)
}

// StartProducerSpan starts the span covering the publication of one event.
func StartProducerSpan(
	ctx context.Context,
	tracer trace.Tracer,
	topic string,
	eventType events.EventType,
) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kafka.produce "+string(eventType),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
			attribute.String("event.type", string(eventType)),
		),
	)
}

// StartConsumerSpan starts the span covering the processing of msg by groupID.
func StartConsumerSpan(
	ctx context.Context,
	tracer trace.Tracer,
	msg *sarama.ConsumerMessage,
	groupID string,
) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingOperationReceive,
			semconv.MessagingKafkaConsumerGroup(groupID),
			semconv.MessagingKafkaDestinationPartition(int(msg.Partition)),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
}
