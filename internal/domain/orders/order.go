// Package orders models bookstore orders and the events emitted when they change.
package orders

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the Status.
func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Domain errors returned by the order workflow.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidStatus      = errors.New("invalid order status")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrBookNotFound       = errors.New("book not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrCatalogUnavailable = errors.New("book service unavailable")
	ErrStockUpdateFailed  = errors.New("failed to update book stock")
)

// Order is a customer purchase of a single catalog book.
type Order struct {
	ID            int64
	BookID        int64
	Quantity      int
	TotalPrice    float64
	CustomerName  string
	CustomerEmail string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder builds a pending order for quantity copies of book priced at unitPrice.
// The ID is assigned by the repository on creation.
func NewOrder(bookID int64, quantity int, unitPrice float64, customerName, customerEmail string) (*Order, error) {
	if bookID <= 0 {
		return nil, fmt.Errorf("%w: book id must be positive", ErrInvalidOrder)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if customerEmail == "" {
		return nil, fmt.Errorf("%w: customer email is required", ErrInvalidOrder)
	}

	now := time.Now().UTC()
	return &Order{
		BookID:        bookID,
		Quantity:      quantity,
		TotalPrice:    unitPrice * float64(quantity),
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// UpdateStatus moves the order to status.
func (o *Order) UpdateStatus(status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}
