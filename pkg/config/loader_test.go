package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644)
	require.NoError(t, err)
	return dir
}

func TestInitializeDefaults(t *testing.T) {
	// No parley.yaml at all: every section falls back to built-ins.
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "parley", cfg.Redis.Prefix)
	assert.Equal(t, 50, cfg.Queue.BroadcastMaxEntries)
	assert.Equal(t, 1*time.Hour, cfg.Queue.PurgeAge)
	assert.Equal(t, 3, cfg.Queue.PerAgentConcurrency)
	assert.Equal(t, 2*time.Minute, cfg.Assignment.LeaseTTL)
	assert.Equal(t, 4096, cfg.Message.MaxBytes)
	assert.Equal(t, 5*time.Second, cfg.Lock.AcquireTimeout)
	assert.Equal(t, 30*time.Second, cfg.Presence.TTL)
	assert.False(t, cfg.Analytics.Enabled())
}

func TestInitializeFromYAML(t *testing.T) {
	dir := writeConfigFile(t, `
server:
  port: 9090
  allowed_origins:
    - "support.example.com"
redis:
  addr: "redis.internal:6380"
  prefix: "chat"
queue:
  broadcast_max_entries: 25
  purge_age: "30m"
  per_agent_concurrency: 5
assignment:
  lease_ttl: "90s"
message:
  max_bytes: 2048
  retention: "6h"
lock:
  acquire_timeout: "2s"
presence:
  ttl: "15s"
analytics:
  brokers:
    - "kafka-1:9092"
    - "kafka-2:9092"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"support.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "chat", cfg.Redis.Prefix)
	assert.Equal(t, 25, cfg.Queue.BroadcastMaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Queue.PurgeAge)
	assert.Equal(t, 5, cfg.Queue.PerAgentConcurrency)
	// Unset keys keep defaults.
	assert.Equal(t, 1*time.Minute, cfg.Queue.SweepInterval)
	assert.Equal(t, 90*time.Second, cfg.Assignment.LeaseTTL)
	assert.Equal(t, 2048, cfg.Message.MaxBytes)
	assert.Equal(t, 6*time.Hour, cfg.Message.Retention)
	assert.Equal(t, 100, cfg.Message.TailLimit)
	assert.Equal(t, 2*time.Second, cfg.Lock.AcquireTimeout)
	assert.Equal(t, 10*time.Second, cfg.Lock.LeaseTTL)
	assert.Equal(t, 15*time.Second, cfg.Presence.TTL)
	assert.True(t, cfg.Analytics.Enabled())
	assert.Equal(t, "parley", cfg.Analytics.ClientID)
}

func TestInitializeExpandsEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.prod:6379")
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret$pass")

	dir := writeConfigFile(t, `
redis:
  addr: "{{.TEST_REDIS_ADDR}}"
  password: "{{.TEST_REDIS_PASSWORD}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "redis.prod:6379", cfg.Redis.Addr)
	assert.Equal(t, "s3cret$pass", cfg.Redis.Password)
}

func TestInitializeInvalidDuration(t *testing.T) {
	dir := writeConfigFile(t, `
queue:
  purge_age: "soon"
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "purge_age")
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfigFile(t, "queue: [not a mapping")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, "addr"},
		{"zero concurrency", func(c *Config) { c.Queue.PerAgentConcurrency = 0 }, "per_agent_concurrency"},
		{"negative purge age", func(c *Config) { c.Queue.PurgeAge = -time.Minute }, "purge_age"},
		{"zero lease", func(c *Config) { c.Assignment.LeaseTTL = 0 }, "lease_ttl"},
		{"zero max bytes", func(c *Config) { c.Message.MaxBytes = 0 }, "max_bytes"},
		{"retry above acquire", func(c *Config) { c.Lock.RetryInterval = time.Minute }, "retry_interval"},
		{"empty broker", func(c *Config) { c.Analytics.Brokers = []string{""} }, "brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(context.Background(), t.TempDir())
			require.NoError(t, err)
			tt.mutate(cfg)

			err = validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
