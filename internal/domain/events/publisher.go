package events

import "context"

var _ DomainEventPublisher = (*BusPublisher)(nil)

// BusPublisher adapts an EventBus to the DomainEventPublisher port by wrapping
// each domain event in an envelope stamped with its type and occurrence time.
type BusPublisher struct{ bus EventBus }

// NewBusPublisher creates a publisher that distributes domain events through bus.
func NewBusPublisher(bus EventBus) *BusPublisher { return &BusPublisher{bus: bus} }

// PublishDomainEvent sends event through the underlying bus.
func (p *BusPublisher) PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error {
	params := ApplyPublishOptions(opts...)
	evt := EventEnvelope{
		Type:      event.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return p.bus.Publish(ctx, evt, opts...)
}
