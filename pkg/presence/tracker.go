// Package presence tracks participant liveness through short-lived Redis
// keys refreshed by the realtime gateway.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/keyspace"
)

// Tracker marks participants as present for the duration of a heartbeat TTL.
// Absence is detected by letting the mark expire.
type Tracker struct {
	client redis.UniversalClient
	keys   keyspace.Keyspace
	ttl    time.Duration
}

// NewTracker creates a tracker whose marks expire after ttl without a
// refresh.
func NewTracker(client redis.UniversalClient, keys keyspace.Keyspace, ttl time.Duration) *Tracker {
	return &Tracker{client: client, keys: keys, ttl: ttl}
}

// MarkPresent flags the participant as present and resets the expiry. Called
// on connect and on every message.
func (t *Tracker) MarkPresent(ctx context.Context, participantID string) error {
	if err := t.client.Set(ctx, t.keys.Presence(participantID), "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark %s present: %w", participantID, err)
	}
	return nil
}

// MarkAbsent removes the mark immediately, ahead of its natural expiry.
func (t *Tracker) MarkAbsent(ctx context.Context, participantID string) error {
	if err := t.client.Del(ctx, t.keys.Presence(participantID)).Err(); err != nil {
		return fmt.Errorf("failed to mark %s absent: %w", participantID, err)
	}
	return nil
}

// IsPresent reports whether the participant has a live mark.
func (t *Tracker) IsPresent(ctx context.Context, participantID string) (bool, error) {
	n, err := t.client.Exists(ctx, t.keys.Presence(participantID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence of %s: %w", participantID, err)
	}
	return n > 0, nil
}
