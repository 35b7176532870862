package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.False(t, rl.Limited())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for range 100 {
		require.NoError(t, rl.Wait(ctx))
	}
}

func TestRateLimiterBlocksPastBurst(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Limited())

	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiterUpdateLimits(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.UpdateLimits(0, 0)
	assert.False(t, rl.Limited())

	rl.UpdateLimits(5, 0)
	assert.True(t, rl.Limited())
}
