// Package memory keeps processed notification keys in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/bookstore-events/internal/domain/notifications"
)

var _ notifications.ProcessedStore = (*Store)(nil)

// Store is a notifications.ProcessedStore whose entries expire after ttl.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewStore creates a store. A zero ttl keeps entries for the life of the process.
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, entries: make(map[string]time.Time), now: time.Now}
}

func (s *Store) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if s.ttl > 0 && s.now().Sub(at) >= s.ttl {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *Store) MarkProcessed(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.now()
	return nil
}
