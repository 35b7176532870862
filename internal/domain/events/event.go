package events

import "time"

// DomainEvent is implemented by every strongly typed event the domain emits.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventEnvelope encapsulates all event data flowing through the system, providing
// a standardized format for event processing and distribution.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business identifier
	// like an order id.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on the EventType.
	Payload any

	// Metadata describes where the event came from on the transport.
	Metadata EventMetadata
}

// EventMetadata carries transport specific delivery information. Only the fields
// relevant to the bus that produced the envelope are populated.
type EventMetadata struct {
	// MessageID is the broker level message identifier, if any.
	MessageID string
	// DeliveryTag is the AMQP channel scoped delivery tag.
	DeliveryTag uint64
	// Redelivered reports that the broker has delivered this message before.
	Redelivered bool
	// Attempt is the 1-based processing attempt for bounded-retry policies.
	Attempt int

	// Partition and Offset locate a Kafka record.
	Partition int32
	Offset    int64
}
