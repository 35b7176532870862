// Package metrics provides the OpenTelemetry counters shared by every event bus.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/bookstore-events/internal/domain/events"
)

var _ events.BusMetrics = (*BusMetrics)(nil)

// BusMetrics counts messages moving through a bus, labelled by destination
// (exchange, queue or topic).
type BusMetrics struct {
	messagesPublished    metric.Int64Counter
	messagesConsumed     metric.Int64Counter
	publishErrors        metric.Int64Counter
	consumeErrors        metric.Int64Counter
	messagesRetried      metric.Int64Counter
	messagesDeadLettered metric.Int64Counter
}

// NewBusMetrics registers the bus counters on meter.
func NewBusMetrics(meter metric.Meter) (*BusMetrics, error) {
	m := new(BusMetrics)
	var err error

	if m.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if m.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if m.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of consume errors"),
	); err != nil {
		return nil, err
	}

	if m.messagesRetried, err = meter.Int64Counter(
		"messages_retried_total",
		metric.WithDescription("Total number of messages scheduled for another attempt"),
	); err != nil {
		return nil, err
	}

	if m.messagesDeadLettered, err = meter.Int64Counter(
		"messages_dead_lettered_total",
		metric.WithDescription("Total number of messages routed to a dead-letter destination"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *BusMetrics) IncMessagePublished(ctx context.Context, destination string) {
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (m *BusMetrics) IncMessageConsumed(ctx context.Context, destination string) {
	m.messagesConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (m *BusMetrics) IncPublishError(ctx context.Context, destination string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (m *BusMetrics) IncConsumeError(ctx context.Context, destination string) {
	m.consumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (m *BusMetrics) IncMessageRetried(ctx context.Context, destination string) {
	m.messagesRetried.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (m *BusMetrics) IncMessageDeadLettered(ctx context.Context, destination string) {
	m.messagesDeadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}
