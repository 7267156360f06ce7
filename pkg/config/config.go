// Package config loads and validates service configuration from parley.yaml
// plus environment variables.
package config

import (
	"fmt"
)

// Config is the fully resolved service configuration. All sections are
// non-nil after Initialize.
type Config struct {
	configDir string

	Server     *ServerConfig
	Redis      *RedisConfig
	Queue      *QueueConfig
	Assignment *AssignmentConfig
	Message    *MessageConfig
	Lock       *LockConfig
	Presence   *PresenceConfig
	Analytics  *AnalyticsConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	// Port the HTTP server (REST + websocket upgrade) listens on.
	Port int `yaml:"port"`

	// AllowedOrigins are origin patterns accepted during the websocket
	// handshake. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RedisConfig holds the ephemeral-store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix namespaces every key and channel so deployments can share
	// one Redis.
	Prefix string `yaml:"prefix"`
}

// AnalyticsConfig holds the Kafka forwarder settings. The forwarder is
// disabled when no brokers are configured.
type AnalyticsConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`
}

// Enabled reports whether the analytics forwarder should run.
func (a *AnalyticsConfig) Enabled() bool { return len(a.Brokers) > 0 }

// validate performs cross-field validation on a resolved Config.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return newFieldError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Server.Port))
	}
	if cfg.Redis.Addr == "" {
		return newFieldError("redis", "addr", ErrMissingRequiredField)
	}
	if cfg.Queue.PerAgentConcurrency < 1 {
		return newFieldError("queue", "per_agent_concurrency", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Queue.BroadcastMaxEntries < 1 {
		return newFieldError("queue", "broadcast_max_entries", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Queue.PurgeAge <= 0 {
		return newFieldError("queue", "purge_age", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Queue.SweepInterval <= 0 {
		return newFieldError("queue", "sweep_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Assignment.LeaseTTL <= 0 {
		return newFieldError("assignment", "lease_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Message.MaxBytes < 1 {
		return newFieldError("message", "max_bytes", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Message.Retention <= 0 {
		return newFieldError("message", "retention", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Message.TailLimit < 1 {
		return newFieldError("message", "tail_limit", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Lock.AcquireTimeout <= 0 {
		return newFieldError("lock", "acquire_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Lock.LeaseTTL <= 0 {
		return newFieldError("lock", "lease_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Lock.RetryInterval <= 0 || cfg.Lock.RetryInterval >= cfg.Lock.AcquireTimeout {
		return newFieldError("lock", "retry_interval", fmt.Errorf("%w: must be positive and below acquire_timeout", ErrInvalidValue))
	}
	if cfg.Presence.TTL <= 0 {
		return newFieldError("presence", "ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	for _, b := range cfg.Analytics.Brokers {
		if b == "" {
			return newFieldError("analytics", "brokers", fmt.Errorf("%w: empty broker address", ErrInvalidValue))
		}
	}
	return nil
}
