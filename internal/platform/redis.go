package platform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from the given URL, failing if the
// server is unreachable.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// NewOptionalRedisClient creates a Redis client for redisURL without
// requiring it to be reachable at startup. Redis is reserved for a future
// distributed Cooldown Cache (see config.Config.RedisURL); the in-memory
// cache is authoritative today, so a connection failure here is logged and
// the client returned anyway (go-redis reconnects lazily on first use),
// never fatal to startup.
func NewOptionalRedisClient(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis: invalid REDIS_URL, distributed cooldown cache will be unavailable", "error", err)
		return nil
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis: unreachable at startup, distributed cooldown cache will be unavailable", "error", err)
	}

	return client
}
