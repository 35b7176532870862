package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/bookstore-events/internal/domain/orders"
)

// serializeOrderCreated validates and encodes an OrderCreatedEvent as
// {"order_details": {...}}.
func serializeOrderCreated(payload any) ([]byte, error) {
	var evt orders.OrderCreatedEvent
	switch p := payload.(type) {
	case orders.OrderCreatedEvent:
		evt = p
	case *orders.OrderCreatedEvent:
		if p == nil {
			return nil, fmt.Errorf("serializeOrderCreated: nil payload")
		}
		evt = *p
	default:
		return nil, fmt.Errorf("serializeOrderCreated: payload is %T, not orders.OrderCreatedEvent", payload)
	}

	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(evt)
}

// deserializeOrderCreated decodes and validates an order created payload.
func deserializeOrderCreated(data []byte) (any, error) {
	var evt orders.OrderCreatedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", orders.ErrMalformedEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}
