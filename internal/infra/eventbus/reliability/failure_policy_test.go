package reliability

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/bookstore-events/internal/domain/orders"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus/serialization"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDrop, m)

	for _, s := range []string{"drop", "dead_letter", "retry"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}

	_, err = ParseMode("forever")
	assert.Error(t, err)
}

func TestPolicyDecide(t *testing.T) {
	transient := errors.New("smtp: connection refused")
	malformed := fmt.Errorf("%w: %w", serialization.ErrDecode, orders.ErrMalformedEvent)

	tests := []struct {
		name    string
		policy  Policy
		err     error
		attempt int
		want    Action
	}{
		{name: "success always acks", policy: Policy{Mode: ModeRetry, MaxAttempts: 3}, err: nil, attempt: 1, want: ActionAck},
		{name: "drop acks failures", policy: DefaultPolicy(), err: transient, attempt: 1, want: ActionAck},
		{name: "drop acks decode failures", policy: DefaultPolicy(), err: malformed, attempt: 1, want: ActionAck},
		{name: "dead letter on failure", policy: Policy{Mode: ModeDeadLetter}, err: transient, attempt: 1, want: ActionDeadLetter},
		{name: "retry below limit", policy: Policy{Mode: ModeRetry, MaxAttempts: 3}, err: transient, attempt: 2, want: ActionRetry},
		{name: "retry exhausted", policy: Policy{Mode: ModeRetry, MaxAttempts: 3}, err: transient, attempt: 3, want: ActionDeadLetter},
		{name: "decode errors never retried", policy: Policy{Mode: ModeRetry, MaxAttempts: 3}, err: malformed, attempt: 1, want: ActionDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Decide(tt.err, tt.attempt))
		})
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy("retry", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.MaxAttempts)
	assert.True(t, p.NeedsDeadLetter())

	p, err = NewPolicy("drop", 5)
	require.NoError(t, err)
	assert.False(t, p.NeedsDeadLetter())

	_, err = NewPolicy("bogus", 1)
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("timeout")))
	assert.False(t, IsRetryable(fmt.Errorf("wrap: %w", serialization.ErrUnknownEventType)))
	assert.False(t, IsRetryable(fmt.Errorf("wrap: %w", orders.ErrMalformedEvent)))
}
