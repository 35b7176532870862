package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "order_api"

// APIMetrics defines metrics operations needed by the order API.
type APIMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)

	// Order workflow metrics.
	IncOrdersPlaced(ctx context.Context)
	IncOrderFailures(ctx context.Context, reason string)
	IncEventPublishFailures(ctx context.Context)
}

type apiMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram

	ordersPlaced         metric.Int64Counter
	orderFailures        metric.Int64Counter
	eventPublishFailures metric.Int64Counter
}

func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.ordersPlaced, err = meter.Int64Counter(
		"orders_placed_total",
		metric.WithDescription("Total number of orders placed"),
	); err != nil {
		return nil, err
	}

	if m.orderFailures, err = meter.Int64Counter(
		"order_failures_total",
		metric.WithDescription("Total number of rejected or failed order placements"),
	); err != nil {
		return nil, err
	}

	if m.eventPublishFailures, err = meter.Int64Counter(
		"order_event_publish_failures_total",
		metric.WithDescription("Total number of order events that could not be published"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncOrdersPlaced(ctx context.Context) {
	m.ordersPlaced.Add(ctx, 1)
}

func (m *apiMetrics) IncOrderFailures(ctx context.Context, reason string) {
	m.orderFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *apiMetrics) IncEventPublishFailures(ctx context.Context) {
	m.eventPublishFailures.Add(ctx, 1)
}
