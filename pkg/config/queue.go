package config

import "time"

// QueueConfig controls the shared agent queue: snapshot broadcasts, stale
// entry purging, and per-agent admission.
type QueueConfig struct {
	// BroadcastMaxEntries caps the size of queue:snapshot payloads pushed
	// to agent consoles.
	BroadcastMaxEntries int `yaml:"broadcast_max_entries"`

	// PurgeAge is the maximum time a conversation may wait in the queue.
	// Older entries are purged and their conversations closed with a
	// system notice.
	PurgeAge time.Duration `yaml:"purge_age"`

	// PerAgentConcurrency is the admission bound on simultaneously
	// assigned conversations per agent.
	PerAgentConcurrency int `yaml:"per_agent_concurrency"`

	// SweepInterval is how often each instance runs the purge and
	// lease-expiry sweep. Sweeps are idempotent across instances.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AssignmentConfig controls conversation ownership leases.
type AssignmentConfig struct {
	// LeaseTTL is the assignment key TTL. Refreshed on every message and
	// explicit extend; expiry makes the conversation eligible for
	// re-queue by the liveness sweeper.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// MessageConfig controls message validation and the ephemeral tail.
type MessageConfig struct {
	// MaxBytes is the maximum accepted message content size.
	MaxBytes int `yaml:"max_bytes"`

	// Retention bounds the ephemeral message tail in Redis. The audit
	// store keeps the durable copy.
	Retention time.Duration `yaml:"retention"`

	// TailLimit is the default number of messages returned by tail reads.
	TailLimit int `yaml:"tail_limit"`
}

// LockConfig controls the distributed per-conversation lock.
type LockConfig struct {
	// AcquireTimeout bounds how long a transition waits for the lock
	// before failing with contention.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// LeaseTTL bounds how long a holder may keep the lock; a dead holder
	// is recovered after this interval.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// RetryInterval is the poll interval while waiting in the lock's
	// ticket queue.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// PresenceConfig controls participant liveness flags.
type PresenceConfig struct {
	// TTL is the presence key lifetime; absence is detected by expiry.
	TTL time.Duration `yaml:"ttl"`
}
