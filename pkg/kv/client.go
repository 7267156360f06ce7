// Package kv constructs the Redis client backing the ephemeral state store
// (queue, assignment leases, presence, message tails, locks, pub/sub).
package kv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/config"
)

const (
	poolSize     = 25
	minIdleConns = 5
	pingTimeout  = 5 * time.Second
)

// NewClient connects to the ephemeral store and verifies the connection
// with a ping.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	slog.Info("Redis connection established", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}

// Health pings the ephemeral store within the given context.
func Health(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
