// Package assignment tracks which conversations each agent currently holds
// and the ownership leases backing them.
//
// The per-agent load sets are the fast admission-control view; the atomic
// claim script owns the authoritative decision. The coordinator writes both
// under the conversation lock, and a stale load entry outliving its lease is
// tolerated: admission is a best-effort upper bound.
package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/keyspace"
)

// Registry is the per-agent concurrency accounting over one Redis client.
type Registry struct {
	client      redis.UniversalClient
	keys        keyspace.Keyspace
	maxPerAgent int
	leaseTTL    time.Duration
}

// NewRegistry creates a registry with the given admission bound and lease
// TTL.
func NewRegistry(client redis.UniversalClient, keys keyspace.Keyspace, maxPerAgent int, leaseTTL time.Duration) *Registry {
	return &Registry{client: client, keys: keys, maxPerAgent: maxPerAgent, leaseTTL: leaseTTL}
}

// MaxPerAgent returns the admission bound.
func (r *Registry) MaxPerAgent() int { return r.maxPerAgent }

// LeaseTTL returns the ownership lease duration.
func (r *Registry) LeaseTTL() time.Duration { return r.leaseTTL }

// CanAssign reports whether the agent is below its concurrency bound.
func (r *Registry) CanAssign(ctx context.Context, agentID string) (bool, error) {
	n, err := r.client.SCard(ctx, r.keys.AgentLoad(agentID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read agent load for %s: %w", agentID, err)
	}
	return n < int64(r.maxPerAgent), nil
}

// Register records the conversation under the agent's load and asserts the
// ownership lease. Idempotent.
func (r *Registry) Register(ctx context.Context, agentID, conversationID string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keys.AgentLoad(agentID), conversationID)
	pipe.Set(ctx, r.keys.Assignment(conversationID), agentID, r.leaseTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register assignment %s -> %s: %w", conversationID, agentID, err)
	}
	return nil
}

// Remove drops the conversation from the agent's load set.
func (r *Registry) Remove(ctx context.Context, agentID, conversationID string) error {
	if err := r.client.SRem(ctx, r.keys.AgentLoad(agentID), conversationID).Err(); err != nil {
		return fmt.Errorf("failed to remove assignment %s from %s: %w", conversationID, agentID, err)
	}
	return nil
}

// AssignmentsOf returns the conversations currently held by the agent.
func (r *Registry) AssignmentsOf(ctx context.Context, agentID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.keys.AgentLoad(agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments of %s: %w", agentID, err)
	}
	return ids, nil
}

// Owner returns the agent currently leasing the conversation, or "" when
// nobody does.
func (r *Registry) Owner(ctx context.Context, conversationID string) (string, error) {
	owner, err := r.client.Get(ctx, r.keys.Assignment(conversationID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read assignment owner of %s: %w", conversationID, err)
	}
	return owner, nil
}

// ExtendLease refreshes the ownership lease. Best effort: extending an
// already expired lease is a no-op, at which point the liveness sweeper may
// re-queue the conversation.
func (r *Registry) ExtendLease(ctx context.Context, conversationID string) error {
	if err := r.client.PExpire(ctx, r.keys.Assignment(conversationID), r.leaseTTL).Err(); err != nil {
		return fmt.Errorf("failed to extend assignment lease of %s: %w", conversationID, err)
	}
	return nil
}

// Release deletes the ownership lease so the conversation has no owner.
func (r *Registry) Release(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, r.keys.Assignment(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to release assignment of %s: %w", conversationID, err)
	}
	return nil
}
