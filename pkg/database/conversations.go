package database

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// FindConversations narrows ListConversations. Nil/empty fields match
// everything.
type FindConversations struct {
	AgentID  *string
	Statuses []models.ConversationStatus
	Limit    int
}

const conversationColumns = "id, customer_id, customer_name, agent_id, agent_name, status, channel, attributes, created_at, accepted_at, closed_at, updated_at"

// CreateConversation inserts the conversation row.
func (c *Client) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	attrs, err := marshalAttributes(conv.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode conversation attributes: %w", err)
	}
	agentID, agentName := agentColumns(conv.Agent)

	stmt := `INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = c.db.ExecContext(ctx, stmt,
		conv.ID, conv.Customer.ID, conv.Customer.DisplayName,
		agentID, agentName, string(conv.Status), conv.Channel, attrs,
		conv.CreatedAt, conv.AcceptedAt, conv.ClosedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation loads one conversation, ErrNotFound when absent.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conv, nil
}

// UpdateConversation rewrites the mutable columns of the conversation row.
// ErrNotFound when the row does not exist.
func (c *Client) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	attrs, err := marshalAttributes(conv.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode conversation attributes: %w", err)
	}
	agentID, agentName := agentColumns(conv.Agent)

	stmt := `UPDATE conversations
		SET agent_id = $2, agent_name = $3, status = $4, channel = $5,
			attributes = $6, accepted_at = $7, closed_at = $8, updated_at = $9
		WHERE id = $1`
	result, err := c.db.ExecContext(ctx, stmt,
		conv.ID, agentID, agentName, string(conv.Status), conv.Channel,
		attrs, conv.AcceptedAt, conv.ClosedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", conv.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrNotFound)
	}
	return nil
}

// ListConversations returns conversations matching the filter, most recently
// updated first.
func (c *Client) ListConversations(ctx context.Context, find *FindConversations) ([]*models.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.AgentID != nil {
		args = append(args, *find.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if len(find.Statuses) > 0 {
		ph := make([]string, 0, len(find.Statuses))
		for _, s := range find.Statuses {
			args = append(args, string(s))
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_at DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]*models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		list = append(list, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv       models.Conversation
		agentID    stdsql.NullString
		agentName  stdsql.NullString
		status     string
		attrs      []byte
		acceptedAt stdsql.NullTime
		closedAt   stdsql.NullTime
	)
	err := row.Scan(
		&conv.ID, &conv.Customer.ID, &conv.Customer.DisplayName,
		&agentID, &agentName, &status, &conv.Channel, &attrs,
		&conv.CreatedAt, &acceptedAt, &closedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.Customer.Type = models.ParticipantCustomer
	conv.Status = models.ConversationStatus(status)
	if agentID.Valid {
		conv.Agent = &models.Participant{
			ID:          agentID.String,
			Type:        models.ParticipantAgent,
			DisplayName: agentName.String,
		}
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		conv.AcceptedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		conv.ClosedAt = &t
	}
	if len(attrs) > 0 {
		var m map[string]string
		if err := json.Unmarshal(attrs, &m); err != nil {
			return nil, fmt.Errorf("failed to decode conversation attributes: %w", err)
		}
		if len(m) > 0 {
			conv.Attributes = m
		}
	}
	return &conv, nil
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(attrs)
}

// agentColumns splits the optional agent participant into its nullable
// columns.
func agentColumns(agent *models.Participant) (stdsql.NullString, stdsql.NullString) {
	if agent == nil {
		return stdsql.NullString{}, stdsql.NullString{}
	}
	return stdsql.NullString{String: agent.ID, Valid: true},
		stdsql.NullString{String: agent.DisplayName, Valid: true}
}
