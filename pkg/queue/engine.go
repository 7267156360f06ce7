// Package queue implements the shared FIFO queue of conversations waiting
// for an agent, backed by a Redis sorted set scored by enqueue time.
//
// ClaimForAgent is the single-winner primitive the rest of the system relies
// on: ownership is decided inside one server-side script evaluation, so two
// agents racing on the same conversation observe exactly one CLAIMED.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/keyspace"
	"github.com/parleyhq/parley/pkg/models"
)

// ClaimOutcome is the result class of an atomic claim attempt.
type ClaimOutcome string

const (
	// ClaimClaimed means the entry was removed and ownership granted.
	ClaimClaimed ClaimOutcome = "CLAIMED"
	// ClaimOwned means the agent already owned the conversation; the
	// lease was refreshed.
	ClaimOwned ClaimOutcome = "OWNED"
	// ClaimBusy means another agent owns the conversation.
	ClaimBusy ClaimOutcome = "BUSY"
	// ClaimMissing means no queue entry and no ownership exist.
	ClaimMissing ClaimOutcome = "MISSING"
)

// ClaimResult carries the outcome of ClaimForAgent. Entry is set only for
// ClaimClaimed.
type ClaimResult struct {
	Outcome ClaimOutcome
	Entry   *models.QueueEntry
}

// claimScript decides ownership in one atomic evaluation: read the
// assignment key, remove the queue entry, set the lease. The order of the
// checks mirrors the outcome table: foreign owner wins BUSY before anything
// else, a present entry wins CLAIMED over OWNED so a re-queued conversation
// is re-claimed rather than lease-refreshed.
var claimScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if owner and owner ~= ARGV[1] then
  return {'BUSY'}
end
local entries = redis.call('ZRANGE', KEYS[2], 0, -1)
for _, raw in ipairs(entries) do
  local entry = cjson.decode(raw)
  if entry.conversationId == ARGV[3] then
    redis.call('ZREM', KEYS[2], raw)
    redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
    return {'CLAIMED', raw}
  end
end
if owner == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return {'OWNED'}
end
return {'MISSING'}
`)

// Engine is the queue over one Redis client. Safe for concurrent use.
type Engine struct {
	client redis.UniversalClient
	keys   keyspace.Keyspace
}

// NewEngine creates a queue engine using the given keyspace.
func NewEngine(client redis.UniversalClient, keys keyspace.Keyspace) *Engine {
	return &Engine{client: client, keys: keys}
}

// Enqueue inserts the entry at its enqueue-time score. Callers guarantee at
// most one entry per conversation by holding the conversation lock.
func (e *Engine) Enqueue(ctx context.Context, entry models.QueueEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode queue entry: %w", err)
	}
	err = e.client.ZAdd(ctx, e.keys.QueuePending(), redis.Z{
		Score:  entry.Score(),
		Member: string(raw),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue conversation %s: %w", entry.ConversationID, err)
	}
	return nil
}

// ClaimForAgent atomically resolves ownership of a queued conversation.
func (e *Engine) ClaimForAgent(ctx context.Context, conversationID, agentID string, ttl time.Duration) (*ClaimResult, error) {
	res, err := claimScript.Run(ctx, e.client,
		[]string{e.keys.Assignment(conversationID), e.keys.QueuePending()},
		agentID, ttl.Milliseconds(), conversationID).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to run claim script: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("claim script returned empty result for conversation %s", conversationID)
	}

	outcome, _ := res[0].(string)
	result := &ClaimResult{Outcome: ClaimOutcome(outcome)}
	if result.Outcome == ClaimClaimed {
		if len(res) < 2 {
			return nil, fmt.Errorf("claim script returned CLAIMED without an entry for conversation %s", conversationID)
		}
		raw, _ := res[1].(string)
		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode claimed queue entry: %w", err)
		}
		result.Entry = &entry
	}
	return result, nil
}

// Peek returns the head of the queue without removing it, or nil when empty.
func (e *Engine) Peek(ctx context.Context) (*models.QueueEntry, error) {
	raws, err := e.client.ZRange(ctx, e.keys.QueuePending(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	if len(raws) == 0 {
		return nil, nil
	}
	return decodeEntry(raws[0])
}

// Remove deletes the entry for one conversation, returning it, or nil when
// absent. The scan and removal are separate commands; the conversation lock
// serializes Remove against Enqueue, and a concurrent claim simply wins the
// ZREM.
func (e *Engine) Remove(ctx context.Context, conversationID string) (*models.QueueEntry, error) {
	raws, err := e.client.ZRange(ctx, e.keys.QueuePending(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}
	for _, raw := range raws {
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		if entry.ConversationID != conversationID {
			continue
		}
		removed, err := e.client.ZRem(ctx, e.keys.QueuePending(), raw).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to remove queue entry for conversation %s: %w", conversationID, err)
		}
		if removed == 0 {
			// A claim took it between the scan and the removal.
			return nil, nil
		}
		return entry, nil
	}
	return nil, nil
}

// List returns up to limit entries in FIFO order.
func (e *Engine) List(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	raws, err := e.client.ZRange(ctx, e.keys.QueuePending(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	entries := make([]models.QueueEntry, 0, len(raws))
	for _, raw := range raws {
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Position returns the 0-based queue position of a conversation, -1 when
// absent.
func (e *Engine) Position(ctx context.Context, conversationID string) (int, error) {
	raws, err := e.client.ZRange(ctx, e.keys.QueuePending(), 0, -1).Result()
	if err != nil {
		return -1, fmt.Errorf("failed to scan queue: %w", err)
	}
	for i, raw := range raws {
		entry, err := decodeEntry(raw)
		if err != nil {
			return -1, err
		}
		if entry.ConversationID == conversationID {
			return i, nil
		}
	}
	return -1, nil
}

// Touch reinserts a conversation's entry at the current time, moving it to
// the back of the queue. No-op when absent.
func (e *Engine) Touch(ctx context.Context, conversationID string) error {
	entry, err := e.Remove(ctx, conversationID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	entry.EnqueuedAt = time.Now().UnixMilli()
	return e.Enqueue(ctx, *entry)
}

// PurgeOlderThan removes entries enqueued before now-age and returns them so
// the coordinator can close their conversations.
func (e *Engine) PurgeOlderThan(ctx context.Context, age time.Duration) ([]models.QueueEntry, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	raws, err := e.client.ZRangeByScore(ctx, e.keys.QueuePending(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue for stale entries: %w", err)
	}

	var purged []models.QueueEntry
	for _, raw := range raws {
		removed, err := e.client.ZRem(ctx, e.keys.QueuePending(), raw).Result()
		if err != nil {
			return purged, fmt.Errorf("failed to purge queue entry: %w", err)
		}
		if removed == 0 {
			continue
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return purged, err
		}
		purged = append(purged, *entry)
	}
	return purged, nil
}

// Size returns the current queue depth.
func (e *Engine) Size(ctx context.Context) (int64, error) {
	n, err := e.client.ZCard(ctx, e.keys.QueuePending()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue size: %w", err)
	}
	return n, nil
}

func decodeEntry(raw string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode queue entry: %w", err)
	}
	return &entry, nil
}
