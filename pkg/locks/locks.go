// Package locks implements the distributed per-conversation lock in Redis.
//
// The lock is fair (waiters are granted strictly in arrival order via a
// ticket queue), reentrant (a holder re-acquiring under the same token bumps
// a hold count), and lease-bounded (a dead holder is recovered when its
// lease expires). Lock state lives entirely in the ephemeral store so it is
// visible across instances.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/config"
)

var (
	// ErrAcquireTimeout indicates the lock could not be acquired within
	// the configured acquire timeout.
	ErrAcquireTimeout = errors.New("lock acquire timed out")

	// ErrNotHeld indicates a release or extend by a caller that no longer
	// owns the lock (typically the lease expired underneath it).
	ErrNotHeld = errors.New("lock not held")
)

// waitersSuffix names the ticket queue next to each lock key.
const waitersSuffix = ":waiters"

// acquireScript grants the lock to a reentrant owner or to the head of the
// ticket queue. Tickets keep their original arrival score across polls
// (ZADD NX); tickets older than the stale horizon belong to waiters that
// already gave up and are pruned. Returns 1 when granted, 0 otherwise.
var acquireScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
if owner == ARGV[1] then
  redis.call('HINCRBY', KEYS[1], 'count', 1)
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 1
end
redis.call('ZADD', KEYS[2], 'NX', ARGV[3], ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', tonumber(ARGV[3]) - tonumber(ARGV[4]))
if owner then
  return 0
end
local head = redis.call('ZRANGE', KEYS[2], 0, 0)
if head[1] == ARGV[1] then
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'count', 1)
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// releaseScript decrements the hold count, deleting the lock at zero.
// Returns -1 when the caller is not the owner.
var releaseScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
if owner ~= ARGV[1] then
  return -1
end
local count = redis.call('HINCRBY', KEYS[1], 'count', -1)
if count <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return count
`)

// extendScript refreshes the lease while held. Returns 0 when not owner.
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Manager acquires named locks against one Redis client.
type Manager struct {
	client redis.UniversalClient
	cfg    *config.LockConfig
}

// NewManager creates a lock manager with the given configuration.
func NewManager(client redis.UniversalClient, cfg *config.LockConfig) *Manager {
	return &Manager{client: client, cfg: cfg}
}

// Handle is one acquisition of a named lock. Release exactly once per
// successful Acquire.
type Handle struct {
	m     *Manager
	name  string
	token string
}

// Acquire blocks until the lock is granted, the acquire timeout elapses
// (ErrAcquireTimeout), or ctx is done.
func (m *Manager) Acquire(ctx context.Context, name string) (*Handle, error) {
	h := &Handle{m: m, name: name, token: uuid.NewString()}
	if err := m.acquire(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (m *Manager) acquire(ctx context.Context, h *Handle) error {
	leaseMs := m.cfg.LeaseTTL.Milliseconds()
	// Tickets outlive the longest legitimate wait, so only abandoned
	// waiters are ever pruned.
	staleMs := 2 * m.cfg.AcquireTimeout.Milliseconds()
	deadline := time.Now().Add(m.cfg.AcquireTimeout)

	for {
		granted, err := acquireScript.Run(ctx, m.client,
			[]string{h.name, h.name + waitersSuffix},
			h.token, leaseMs, time.Now().UnixMilli(), staleMs).Int64()
		if err != nil {
			return fmt.Errorf("failed to run lock acquire script: %w", err)
		}
		if granted == 1 {
			return nil
		}
		if time.Now().After(deadline) {
			m.abandonTicket(h)
			return fmt.Errorf("%w: %s", ErrAcquireTimeout, h.name)
		}

		select {
		case <-ctx.Done():
			m.abandonTicket(h)
			return ctx.Err()
		case <-time.After(m.cfg.RetryInterval):
		}
	}
}

// abandonTicket removes a waiter's ticket so it cannot block the queue head.
// Best effort; stale tickets are pruned by later acquire attempts anyway.
func (m *Manager) abandonTicket(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = m.client.ZRem(ctx, h.name+waitersSuffix, h.token).Err()
}

// Release gives up one hold on the lock.
func (h *Handle) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, h.m.client,
		[]string{h.name}, h.token, h.m.cfg.LeaseTTL.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to run lock release script: %w", err)
	}
	if res < 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, h.name)
	}
	return nil
}

// Extend refreshes the lease while the lock is held.
func (h *Handle) Extend(ctx context.Context) error {
	ok, err := extendScript.Run(ctx, h.m.client,
		[]string{h.name}, h.token, h.m.cfg.LeaseTTL.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to run lock extend script: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, h.name)
	}
	return nil
}

// lockCtxKey carries the handle of a held lock through the context so nested
// WithLock calls on the same name re-enter instead of deadlocking on
// themselves.
type lockCtxKey struct{ name string }

// WithLock runs fn while holding the named lock. Re-entrant within one call
// chain: a nested WithLock for the same name re-acquires under the original
// token, bumping the hold count.
func (m *Manager) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if held, ok := ctx.Value(lockCtxKey{name: name}).(*Handle); ok && held != nil {
		if err := m.acquire(ctx, held); err != nil {
			return err
		}
		defer m.releaseQuietly(held)
		return fn(ctx)
	}

	h, err := m.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer m.releaseQuietly(h)

	return fn(context.WithValue(ctx, lockCtxKey{name: name}, h))
}

// releaseQuietly releases outside the caller's context so a canceled request
// still returns its hold.
func (m *Manager) releaseQuietly(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = h.Release(ctx)
}
