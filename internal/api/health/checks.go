package health

import (
	"context"
	"fmt"

	"github.com/ahrav/bookstore-events/internal/domain/events"
)

// Pinger is satisfied by database pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConsumerReady reports ready while the consumer is connected.
func ConsumerReady(sr events.StateReporter) ReadinessCheck {
	return func(context.Context) error {
		if s := sr.State(); !s.Ready() {
			return fmt.Errorf("consumer is %s", s)
		}
		return nil
	}
}

// PingReady reports ready while p answers pings.
func PingReady(p Pinger) ReadinessCheck {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
		return nil
	}
}
