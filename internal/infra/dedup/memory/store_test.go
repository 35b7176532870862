package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s := NewStore(time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.MarkProcessed(ctx, "order-1"))
	seen, err := s.Seen(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, seen)

	now = now.Add(time.Minute)
	seen, err = s.Seen(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestStoreWithoutTTL(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)

	seen, _ := s.Seen(ctx, "order-2")
	assert.False(t, seen)

	require.NoError(t, s.MarkProcessed(ctx, "order-2"))
	seen, _ = s.Seen(ctx, "order-2")
	assert.True(t, seen)
}
