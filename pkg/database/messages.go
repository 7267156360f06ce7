package database

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/pkg/models"
)

const messageColumns = "id, conversation_id, sender_id, sender_name, sender_type, type, content, created_at"

// CreateMessage inserts the message row. The conversation row must already
// exist.
func (c *Client) CreateMessage(ctx context.Context, msg *models.Message) error {
	stmt := `INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := c.db.ExecContext(ctx, stmt,
		msg.ID, msg.ConversationID,
		msg.Sender.ID, msg.Sender.DisplayName, string(msg.Sender.Type),
		string(msg.Type), msg.Content, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create message %s: %w", msg.ID, err)
	}
	return nil
}

// ListMessages returns up to limit most recent messages of the conversation
// in chronological order. A non-positive limit returns the full history.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`
	args := []any{conversationID}
	if limit > 0 {
		// Newest N rows, re-sorted oldest first.
		query = `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) tail ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", conversationID, err)
	}
	defer rows.Close()

	list := make([]*models.Message, 0)
	for rows.Next() {
		var (
			msg        models.Message
			senderType string
			msgType    string
		)
		err := rows.Scan(
			&msg.ID, &msg.ConversationID,
			&msg.Sender.ID, &msg.Sender.DisplayName, &senderType,
			&msgType, &msg.Content, &msg.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Sender.Type = models.ParticipantType(senderType)
		msg.Type = models.MessageType(msgType)
		list = append(list, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages of %s: %w", conversationID, err)
	}
	return list, nil
}
