// Package redis records processed notifications in Redis with a TTL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/notifications"
	"github.com/ahrav/bookstore-events/internal/infra/storage"
)

const keyPrefix = "notifications:processed:"

var _ notifications.ProcessedStore = (*Store)(nil)

// Store is a notifications.ProcessedStore whose entries expire after ttl.
type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
	tracer trace.Tracer
}

// NewStore wraps client. A zero ttl keeps entries forever.
func NewStore(client goredis.UniversalClient, ttl time.Duration, tracer trace.Tracer) *Store {
	return &Store{client: client, ttl: ttl, tracer: tracer}
}

// Connect dials addr and verifies the server answers PING.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

var redisAttributes = []attribute.KeyValue{attribute.String("db.system", "redis")}

// Seen reports whether key was marked processed and has not yet expired.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	var seen bool
	err := storage.ExecuteAndTrace(ctx, s.tracer, "redis.seen",
		append(redisAttributes, attribute.String("key", key)),
		func(ctx context.Context) error {
			err := s.client.Get(ctx, keyPrefix+key).Err()
			switch {
			case errors.Is(err, goredis.Nil):
				return nil
			case err != nil:
				return fmt.Errorf("redis get %s: %w", key, err)
			}
			seen = true
			return nil
		})
	return seen, err
}

// MarkProcessed records key.
func (s *Store) MarkProcessed(ctx context.Context, key string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.mark_processed",
		append(redisAttributes, attribute.String("key", key)),
		func(ctx context.Context) error {
			if err := s.client.Set(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
				return fmt.Errorf("redis set %s: %w", key, err)
			}
			return nil
		})
}
