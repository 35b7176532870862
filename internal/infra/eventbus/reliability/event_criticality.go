// Package reliability decides how the event buses treat messages: which events must be
// confirmed by the broker before a publish is considered done, and what happens to a
// consumed message whose processing failed.
package reliability

import (
	"github.com/ahrav/bookstore-events/internal/domain/events"
	"github.com/ahrav/bookstore-events/internal/domain/orders"
)

// IsCriticalEvent determines if an event type represents a message whose loss
// would go unnoticed. Publishers wait for a broker confirmation for critical
// events when confirms are enabled.
//
// Order lifecycle events are critical: they are never re-emitted, so a lost
// order.created means a customer never hears about their order.
func IsCriticalEvent(eventType events.EventType) bool {
	switch eventType {
	case orders.EventTypeOrderCreated:
		return true
	default:
		return false
	}
}
