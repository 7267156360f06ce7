// Package messagelog keeps the ephemeral per-conversation message tail in a
// Redis list. The audit store holds the durable copy; this tail exists so
// reconnecting clients can repaint recent history without a database read.
package messagelog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/keyspace"
	"github.com/parleyhq/parley/pkg/models"
)

// Log appends and reads the recent message tail of a conversation.
type Log struct {
	client    redis.UniversalClient
	keys      keyspace.Keyspace
	retention time.Duration
	tailLimit int
}

// NewLog creates a log whose per-conversation tails expire after retention
// of inactivity and whose default reads return at most tailLimit messages.
func NewLog(client redis.UniversalClient, keys keyspace.Keyspace, retention time.Duration, tailLimit int) *Log {
	return &Log{client: client, keys: keys, retention: retention, tailLimit: tailLimit}
}

// Append pushes the message onto the conversation's tail and refreshes the
// retention window.
func (l *Log) Append(ctx context.Context, msg *models.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	key := l.keys.ConversationMessages(msg.ConversationID)
	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, l.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message %s to tail: %w", msg.ID, err)
	}
	return nil
}

// Recent returns up to limit most recent messages in chronological order.
// A limit of zero or less falls back to the configured default.
func (l *Log) Recent(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = l.tailLimit
	}
	key := l.keys.ConversationMessages(conversationID)
	raws, err := l.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message tail of %s: %w", conversationID, err)
	}
	msgs := make([]*models.Message, 0, len(raws))
	for _, raw := range raws {
		var msg models.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message tail entry of %s: %w", conversationID, err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// Drop discards the conversation's tail, used when a conversation closes.
func (l *Log) Drop(ctx context.Context, conversationID string) error {
	if err := l.client.Del(ctx, l.keys.ConversationMessages(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to drop message tail of %s: %w", conversationID, err)
	}
	return nil
}
