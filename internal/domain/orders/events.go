package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/bookstore-events/internal/domain/events"
)

// EventTypeOrderCreated is emitted once an order has been persisted and stock reserved.
// It is also the routing key consumers bind on.
const EventTypeOrderCreated events.EventType = "order.created"

// ErrMalformedEvent indicates an order event payload is missing required fields.
var ErrMalformedEvent = errors.New("malformed order event")

var validate = validator.New(validator.WithRequiredStructEnabled())

// OrderDetails is the wire representation of an order carried inside events.
type OrderDetails struct {
	ID            int64   `json:"id" validate:"gt=0"`
	BookID        int64   `json:"book_id" validate:"gt=0"`
	Quantity      int     `json:"quantity" validate:"gt=0"`
	TotalPrice    float64 `json:"total_price" validate:"gte=0"`
	CustomerName  string  `json:"customer_name"`
	CustomerEmail string  `json:"customer_email" validate:"required"`
	Status        Status  `json:"status" validate:"oneof=pending confirmed completed cancelled"`
	CreatedAt     string  `json:"created_at"`
}

// OrderCreatedEvent announces a newly placed order.
type OrderCreatedEvent struct {
	Details    OrderDetails `json:"order_details"`
	occurredAt time.Time
}

// NewOrderCreatedEvent snapshots o into an event.
func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		Details: OrderDetails{
			ID:            o.ID,
			BookID:        o.BookID,
			Quantity:      o.Quantity,
			TotalPrice:    o.TotalPrice,
			CustomerName:  o.CustomerName,
			CustomerEmail: o.CustomerEmail,
			Status:        o.Status,
			CreatedAt:     o.CreatedAt.Format(time.RFC3339Nano),
		},
		occurredAt: time.Now(),
	}
}

func (e OrderCreatedEvent) EventType() events.EventType { return EventTypeOrderCreated }

// OccurredAt returns when the event was built. Decoded events report the zero time.
func (e OrderCreatedEvent) OccurredAt() time.Time { return e.occurredAt }

// Validate fails with ErrMalformedEvent if any required field is missing or out of range.
func (e OrderCreatedEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace())
			}
			return fmt.Errorf("%w: invalid fields %v", ErrMalformedEvent, fields)
		}
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
