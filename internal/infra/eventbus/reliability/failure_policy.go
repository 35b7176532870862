package reliability

import (
	"errors"
	"fmt"

	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/serialization"
)

// Mode names a failure handling strategy.
type Mode string

const (
	// ModeDrop acknowledges failed messages; they are logged and lost.
	ModeDrop Mode = "drop"
	// ModeDeadLetter routes failed messages to a dead-letter destination.
	ModeDeadLetter Mode = "dead_letter"
	// ModeRetry re-delivers failed messages up to MaxAttempts, then dead-letters them.
	ModeRetry Mode = "retry"
)

// ParseMode converts s into a Mode. The empty string selects ModeDrop.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDrop:
		return ModeDrop, nil
	case ModeDeadLetter, ModeRetry:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Action is what a bus does with a message after its handler has run.
type Action int

const (
	ActionAck Action = iota
	ActionRetry
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Policy maps processing outcomes to settlement actions.
type Policy struct {
	Mode        Mode
	MaxAttempts int
}

// DefaultPolicy acknowledges every message regardless of outcome.
func DefaultPolicy() Policy { return Policy{Mode: ModeDrop, MaxAttempts: 1} }

// NewPolicy builds a Policy from its textual mode.
func NewPolicy(mode string, maxAttempts int) (Policy, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return Policy{}, err
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{Mode: m, MaxAttempts: maxAttempts}, nil
}

// NeedsDeadLetter reports whether the broker topology must include a
// dead-letter destination for this policy.
func (p Policy) NeedsDeadLetter() bool { return p.Mode == ModeDeadLetter || p.Mode == ModeRetry }

// Decide returns the action for a message on its attempt-th processing
// (1-based) that finished with err.
func (p Policy) Decide(err error, attempt int) Action {
	if err == nil {
		return ActionAck
	}

	switch p.Mode {
	case ModeDeadLetter:
		return ActionDeadLetter
	case ModeRetry:
		if !IsRetryable(err) || attempt >= p.MaxAttempts {
			return ActionDeadLetter
		}
		return ActionRetry
	default:
		return ActionAck
	}
}

// IsRetryable reports whether processing could succeed on another attempt.
// Payloads that cannot be decoded or validated never become valid.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, serialization.ErrDecode),
		errors.Is(err, serialization.ErrUnknownEventType),
		errors.Is(err, orders.ErrMalformedEvent):
		return false
	default:
		return true
	}
}
