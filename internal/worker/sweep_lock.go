package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/case-engine/internal/clock"
)

// Lock elects the single instance allowed to sweep during one tick.
type Lock interface {
	// TryAcquire returns a release func when the lock was taken, nil when another holder
	// owns it.
	TryAcquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX PX leader lock shared by every engine instance.
type RedisLock struct {
	client *redis.Client
	key    string
}

// NewRedisLock builds a lock stored under prefix.
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{client: client, key: prefix + ":sweep:leader"}
}

// TryAcquire implements Lock.
func (l *RedisLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to acquire sweep lock", goerr.V("key", l.key))
	}
	if !ok {
		return nil, nil
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return goerr.Wrap(err, "failed to release sweep lock", goerr.V("key", l.key))
		}
		return nil
	}, nil
}

// MemoryLock serializes sweeps inside one process.
type MemoryLock struct {
	mu      sync.Mutex
	clock   clock.Clock
	held    bool
	expires time.Time
}

// NewMemoryLock creates a process local lock.
func NewMemoryLock(clk clock.Clock) *MemoryLock {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryLock{clock: clk}
}

// TryAcquire implements Lock.
func (l *MemoryLock) TryAcquire(_ context.Context, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if l.held && now.Before(l.expires) {
		return nil, nil
	}
	l.held = true
	l.expires = now.Add(ttl)
	expires := l.expires
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held && l.expires.Equal(expires) {
			l.held = false
		}
		return nil
	}, nil
}
