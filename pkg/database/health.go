package database

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"
)

// HealthStatus reports audit-store reachability plus connection pool load.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	WaitCount       int64  `json:"wait_count"`
}

// Health pings the pool and probes the conversations table, so a store that
// answers pings but never ran migrations still reports unhealthy.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	unhealthy := func(err error) (*HealthStatus, error) {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	if err := c.db.PingContext(ctx); err != nil {
		return unhealthy(fmt.Errorf("failed to ping audit store: %w", err))
	}

	var one int
	if err := c.db.QueryRowContext(ctx, `SELECT 1 FROM conversations LIMIT 1`).Scan(&one); err != nil && !errors.Is(err, stdsql.ErrNoRows) {
		return unhealthy(fmt.Errorf("failed to probe conversations table: %w", err))
	}

	stats := c.db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		WaitCount:       stats.WaitCount,
	}, nil
}
