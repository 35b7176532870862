// Package events provides domain event handling capabilities for communicating state changes
// and important activities across system boundaries in a decoupled way.
package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the system about
// important domain changes. It provides a technology-agnostic interface to decouple event
// producers from the underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The provided context
	// controls cancellation and deadlines. Optional PublishOptions configure routing behavior.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to domain events across system boundaries.
// It abstracts messaging infrastructure details (like RabbitMQ or Kafka) to keep domain
// logic focused on business concerns rather than transport mechanisms.
type EventBus interface {
	// Publish sends a domain event to the broker. Returns an error if publishing fails.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers a handler function to process events of specified types.
	// Delivery runs in the background until ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close gracefully shuts down the event bus and releases associated resources.
	Close() error
}

// BusMetrics defines the counters every bus implementation reports.
type BusMetrics interface {
	IncMessagePublished(ctx context.Context, destination string)
	IncMessageConsumed(ctx context.Context, destination string)
	IncPublishError(ctx context.Context, destination string)
	IncConsumeError(ctx context.Context, destination string)
	IncMessageRetried(ctx context.Context, destination string)
	IncMessageDeadLettered(ctx context.Context, destination string)
}
