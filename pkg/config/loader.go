package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single configuration file loaded from the config dir.
const ConfigFileName = "parley.yaml"

// parleyYAMLConfig represents the complete parley.yaml file structure.
// Sections whose runtime shape carries durations use dedicated YAML structs
// with string durations ("2m", "90s"); the rest share the runtime types.
type parleyYAMLConfig struct {
	Server     *ServerConfig         `yaml:"server"`
	Redis      *RedisConfig          `yaml:"redis"`
	Queue      *queueYAMLConfig      `yaml:"queue"`
	Assignment *assignmentYAMLConfig `yaml:"assignment"`
	Message    *messageYAMLConfig    `yaml:"message"`
	Lock       *lockYAMLConfig       `yaml:"lock"`
	Presence   *presenceYAMLConfig   `yaml:"presence"`
	Analytics  *AnalyticsConfig      `yaml:"analytics"`
}

type queueYAMLConfig struct {
	BroadcastMaxEntries int    `yaml:"broadcast_max_entries"`
	PurgeAge            string `yaml:"purge_age"`
	PerAgentConcurrency int    `yaml:"per_agent_concurrency"`
	SweepInterval       string `yaml:"sweep_interval"`
}

type assignmentYAMLConfig struct {
	LeaseTTL string `yaml:"lease_ttl"`
}

type messageYAMLConfig struct {
	MaxBytes  int    `yaml:"max_bytes"`
	Retention string `yaml:"retention"`
	TailLimit int    `yaml:"tail_limit"`
}

type lockYAMLConfig struct {
	AcquireTimeout string `yaml:"acquire_timeout"`
	LeaseTTL       string `yaml:"lease_ttl"`
	RetryInterval  string `yaml:"retry_interval"`
}

type presenceYAMLConfig struct {
	TTL string `yaml:"ttl"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load parley.yaml from configDir (absent file means all defaults)
//  2. Expand environment variables
//  3. Merge user values over built-in defaults
//  4. Validate the resolved configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"port", cfg.Server.Port,
		"redis_addr", cfg.Redis.Addr,
		"key_prefix", cfg.Redis.Prefix,
		"per_agent_concurrency", cfg.Queue.PerAgentConcurrency,
		"analytics_enabled", cfg.Analytics.Enabled())

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	raw, err := loadParleyYAML(configDir)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	// Same-typed sections merge user values over defaults.
	server := DefaultServerConfig()
	if raw.Server != nil {
		if err := mergo.Merge(server, raw.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}
	redis := DefaultRedisConfig()
	if raw.Redis != nil {
		if err := mergo.Merge(redis, raw.Redis, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge redis config: %w", err)
		}
	}
	analytics := DefaultAnalyticsConfig()
	if raw.Analytics != nil {
		if err := mergo.Merge(analytics, raw.Analytics, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge analytics config: %w", err)
		}
	}

	// Duration-bearing sections resolve field by field.
	queue, err := resolveQueueConfig(raw.Queue)
	if err != nil {
		return nil, err
	}
	assignment, err := resolveAssignmentConfig(raw.Assignment)
	if err != nil {
		return nil, err
	}
	message, err := resolveMessageConfig(raw.Message)
	if err != nil {
		return nil, err
	}
	lock, err := resolveLockConfig(raw.Lock)
	if err != nil {
		return nil, err
	}
	presence, err := resolvePresenceConfig(raw.Presence)
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir:  configDir,
		Server:     server,
		Redis:      redis,
		Queue:      queue,
		Assignment: assignment,
		Message:    message,
		Lock:       lock,
		Presence:   presence,
		Analytics:  analytics,
	}, nil
}

// loadParleyYAML reads and parses parley.yaml. A missing file is not an
// error: every key has a built-in default.
func loadParleyYAML(configDir string) (*parleyYAMLConfig, error) {
	var config parleyYAMLConfig

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No configuration file found, using built-in defaults", "path", path)
			return &config, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &config, nil
}

func resolveQueueConfig(y *queueYAMLConfig) (*QueueConfig, error) {
	cfg := DefaultQueueConfig()
	if y == nil {
		return cfg, nil
	}
	if y.BroadcastMaxEntries > 0 {
		cfg.BroadcastMaxEntries = y.BroadcastMaxEntries
	}
	if y.PerAgentConcurrency > 0 {
		cfg.PerAgentConcurrency = y.PerAgentConcurrency
	}
	if err := setDuration(&cfg.PurgeAge, "queue", "purge_age", y.PurgeAge); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.SweepInterval, "queue", "sweep_interval", y.SweepInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveAssignmentConfig(y *assignmentYAMLConfig) (*AssignmentConfig, error) {
	cfg := DefaultAssignmentConfig()
	if y == nil {
		return cfg, nil
	}
	if err := setDuration(&cfg.LeaseTTL, "assignment", "lease_ttl", y.LeaseTTL); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveMessageConfig(y *messageYAMLConfig) (*MessageConfig, error) {
	cfg := DefaultMessageConfig()
	if y == nil {
		return cfg, nil
	}
	if y.MaxBytes > 0 {
		cfg.MaxBytes = y.MaxBytes
	}
	if y.TailLimit > 0 {
		cfg.TailLimit = y.TailLimit
	}
	if err := setDuration(&cfg.Retention, "message", "retention", y.Retention); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveLockConfig(y *lockYAMLConfig) (*LockConfig, error) {
	cfg := DefaultLockConfig()
	if y == nil {
		return cfg, nil
	}
	if err := setDuration(&cfg.AcquireTimeout, "lock", "acquire_timeout", y.AcquireTimeout); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.LeaseTTL, "lock", "lease_ttl", y.LeaseTTL); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.RetryInterval, "lock", "retry_interval", y.RetryInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePresenceConfig(y *presenceYAMLConfig) (*PresenceConfig, error) {
	cfg := DefaultPresenceConfig()
	if y == nil {
		return cfg, nil
	}
	if err := setDuration(&cfg.TTL, "presence", "ttl", y.TTL); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDuration parses a Go duration string into dst. Empty keeps the default.
func setDuration(dst *time.Duration, section, field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return newFieldError(section, field, fmt.Errorf("%w: %q", ErrInvalidValue, value))
	}
	*dst = d
	return nil
}
