package config

import (
	"time"

	"github.com/parleyhq/parley/pkg/keyspace"
)

// DefaultServerConfig returns the built-in listener defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: 8080,
	}
}

// DefaultRedisConfig returns the built-in ephemeral-store defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		DB:     0,
		Prefix: keyspace.DefaultPrefix,
	}
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		BroadcastMaxEntries: 50,
		PurgeAge:            1 * time.Hour,
		PerAgentConcurrency: 3,
		SweepInterval:       1 * time.Minute,
	}
}

// DefaultAssignmentConfig returns the built-in lease defaults.
func DefaultAssignmentConfig() *AssignmentConfig {
	return &AssignmentConfig{
		LeaseTTL: 2 * time.Minute,
	}
}

// DefaultMessageConfig returns the built-in message defaults.
func DefaultMessageConfig() *MessageConfig {
	return &MessageConfig{
		MaxBytes:  4096,
		Retention: 24 * time.Hour,
		TailLimit: 100,
	}
}

// DefaultLockConfig returns the built-in lock defaults.
func DefaultLockConfig() *LockConfig {
	return &LockConfig{
		AcquireTimeout: 5 * time.Second,
		LeaseTTL:       10 * time.Second,
		RetryInterval:  25 * time.Millisecond,
	}
}

// DefaultPresenceConfig returns the built-in presence defaults.
func DefaultPresenceConfig() *PresenceConfig {
	return &PresenceConfig{
		TTL: 30 * time.Second,
	}
}

// DefaultAnalyticsConfig returns the built-in analytics defaults. The
// forwarder stays disabled until brokers are configured.
func DefaultAnalyticsConfig() *AnalyticsConfig {
	return &AnalyticsConfig{
		ClientID: "parley",
	}
}
