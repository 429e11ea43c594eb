package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/config"
)

// ErrRedisDisabled is returned by Ping when no Redis address was configured.
var ErrRedisDisabled = errors.New("redis client not configured")

// Redis wraps the go-redis client. Client is nil when REDIS_ADDR is empty.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis using the provided configuration. An unreachable server
// is logged, not fatal; go-redis reconnects on demand.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not provided; idempotency and sweep lock stay in-process")
		return &Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	}

	return &Redis{Client: client}
}

// Enabled reports whether a client was configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Close closes the client.
func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return ErrRedisDisabled
	}
	return r.Client.Ping(ctx).Err()
}
