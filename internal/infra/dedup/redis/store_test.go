package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl, noop.NewTracerProvider().Tracer("")), mr
}

func TestStoreMarksAndExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, time.Hour)

	seen, err := s.Seen(ctx, "order-42")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkProcessed(ctx, "order-42"))

	seen, err = s.Seen(ctx, "order-42")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists(keyPrefix+"order-42"))
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+"order-42"))

	mr.FastForward(2 * time.Hour)

	seen, err = s.Seen(ctx, "order-42")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestStoreSurfacesServerErrors(t *testing.T) {
	s, mr := newTestStore(t, 0)
	mr.Close()

	_, err := s.Seen(context.Background(), "order-1")
	assert.Error(t, err)
	assert.Error(t, s.MarkProcessed(context.Background(), "order-1"))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := Connect(context.Background(), addr, "", 0)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = Connect(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
