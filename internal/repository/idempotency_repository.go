package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers operation keys so replays become no-ops.
type IdempotencyStore interface {
	// Reserve returns true the first time key is seen within ttl.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so a failed operation can be retried with it.
	Release(ctx context.Context, key string) error
}

type redisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore keeps keys in Redis with SET NX and a TTL.
func NewRedisIdempotencyStore(client *redis.Client, prefix string) IdempotencyStore {
	return &redisIdempotencyStore{client: client, prefix: prefix}
}

func (s *redisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, goerr.Wrap(err, "failed to reserve idempotency key", goerr.V("key", key))
	}
	return ok, nil
}

func (s *redisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return goerr.Wrap(err, "failed to release idempotency key", goerr.V("key", key))
	}
	return nil
}

func (s *redisIdempotencyStore) key(k string) string {
	return s.prefix + ":idem:" + k
}
