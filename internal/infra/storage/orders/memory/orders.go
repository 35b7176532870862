// Package memory provides an in-process order repository for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/bookstore-events/internal/domain/orders"
)

var _ orders.Repository = (*OrderStore)(nil)

// OrderStore keeps orders in a map keyed by ID. IDs are assigned sequentially.
type OrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]orders.Order
}

// NewOrderStore creates an empty in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[int64]orders.Order)}
}

// Create assigns the next ID to o and stores a copy.
func (s *OrderStore) Create(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	o.ID = s.nextID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
		o.UpdatedAt = o.CreatedAt
	}
	s.orders[o.ID] = *o
	return nil
}

func (s *OrderStore) GetByID(_ context.Context, id int64) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return &o, nil
}

func (s *OrderStore) List(_ context.Context, offset, limit int) ([]*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]*orders.Order, 0, len(ids))
	for _, id := range ids {
		o := s.orders[id]
		out = append(out, &o)
	}
	return out, nil
}

func (s *OrderStore) UpdateStatus(_ context.Context, id int64, status orders.Status) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	if err := o.UpdateStatus(status); err != nil {
		return nil, err
	}
	s.orders[id] = o
	return &o, nil
}

func (s *OrderStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return orders.ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}
