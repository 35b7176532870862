// Package serialization provides a registry-based system for serializing and deserializing
// domain events in the event bus infrastructure. It acts as a translation layer between
// domain objects and their JSON wire format representations.
//
// Serialization functions are registered per event type, so the buses never need to know
// the concrete payload types they carry. Event types without a registered codec cannot be
// published or consumed.
package serialization

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
)

// ContentType is the MIME type of every encoded payload.
const ContentType = "application/json"

var (
	// ErrUnknownEventType is returned when no codec is registered for an event type.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrDecode wraps every failure to turn wire bytes back into a domain payload.
	ErrDecode = errors.New("failed to decode event payload")
)

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

// Global registries map event types to their serialization functions.
var (
	mu                   sync.RWMutex
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	mu.Lock()
	defer mu.Unlock()
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	mu.Lock()
	defer mu.Unlock()
	deserializerRegistry[eventType] = fn
}

// IsKnown reports whether a codec exists for eventType in both directions.
func IsKnown(eventType events.EventType) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, s := serializerRegistry[eventType]
	_, d := deserializerRegistry[eventType]
	return s && d
}

// SerializePayload converts a domain object into bytes using the registered serializer for its event type.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	mu.RLock()
	fn, ok := serializerRegistry[eventType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no serializer registered for eventType=%s", ErrUnknownEventType, eventType)
	}
	return fn(payload)
}

// DeserializePayload converts bytes back into a domain object using the registered deserializer for its event type.
// Every failure wraps ErrDecode.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	mu.RLock()
	fn, ok := deserializerRegistry[eventType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w: no deserializer registered for eventType=%s", ErrDecode, ErrUnknownEventType, eventType)
	}

	payload, err := fn(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return payload, nil
}

func init() {
	RegisterEventSerializers()
}

// RegisterEventSerializers registers codecs for all supported event types.
func RegisterEventSerializers() {
	RegisterSerializeFunc(orders.EventTypeOrderCreated, serializeOrderCreated)
	RegisterDeserializeFunc(orders.EventTypeOrderCreated, deserializeOrderCreated)
}
