package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/models"
)

func newConversation(status models.ConversationStatus, updatedAt time.Time) *models.Conversation {
	return &models.Conversation{
		ID: uuid.NewString(),
		Customer: models.Participant{
			ID:          "cust-42",
			Type:        models.ParticipantCustomer,
			DisplayName: "Ada",
		},
		Status:     status,
		Channel:    "web",
		Attributes: map[string]string{"topic": "billing"},
		CreatedAt:  updatedAt.Add(-time.Minute),
		UpdatedAt:  updatedAt,
	}
}

func TestConversationRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := newConversation(models.StatusOpen, now)
	require.NoError(t, client.CreateConversation(ctx, conv))

	got, err := client.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Equal(t, "cust-42", got.Customer.ID)
	assert.Equal(t, models.ParticipantCustomer, got.Customer.Type)
	assert.Equal(t, "Ada", got.Customer.DisplayName)
	assert.Nil(t, got.Agent)
	assert.Equal(t, "web", got.Channel)
	assert.Equal(t, map[string]string{"topic": "billing"}, got.Attributes)
	assert.Nil(t, got.AcceptedAt)
	assert.Nil(t, got.ClosedAt)
	assert.WithinDuration(t, conv.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.WithinDuration(t, conv.UpdatedAt, got.UpdatedAt, time.Millisecond)
}

func TestUpdateConversation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := newConversation(models.StatusQueued, now)
	require.NoError(t, client.CreateConversation(ctx, conv))

	accepted := now.Add(30 * time.Second)
	conv.Status = models.StatusAssigned
	conv.Agent = &models.Participant{ID: "ag-7", Type: models.ParticipantAgent, DisplayName: "Grace"}
	conv.AcceptedAt = &accepted
	conv.UpdatedAt = accepted
	require.NoError(t, client.UpdateConversation(ctx, conv))

	got, err := client.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, got.Status)
	require.NotNil(t, got.Agent)
	assert.Equal(t, "ag-7", got.Agent.ID)
	assert.Equal(t, models.ParticipantAgent, got.Agent.Type)
	assert.Equal(t, "Grace", got.Agent.DisplayName)
	require.NotNil(t, got.AcceptedAt)
	assert.WithinDuration(t, accepted, *got.AcceptedAt, time.Millisecond)
}

func TestGetConversationNotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetConversation(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestUpdateConversationNotFound(t *testing.T) {
	client := newTestClient(t)

	conv := newConversation(models.StatusOpen, time.Now().UTC())
	err := client.UpdateConversation(context.Background(), conv)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestListConversationsFilters(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ag1, ag2 := "ag-1", "ag-2"

	mk := func(status models.ConversationStatus, agentID string, offset time.Duration) *models.Conversation {
		conv := newConversation(status, base.Add(offset))
		if agentID != "" {
			conv.Agent = &models.Participant{ID: agentID, Type: models.ParticipantAgent, DisplayName: "Agent"}
		}
		require.NoError(t, client.CreateConversation(ctx, conv))
		return conv
	}

	a := mk(models.StatusAssigned, ag1, 0)
	b := mk(models.StatusClosed, ag1, time.Minute)
	c := mk(models.StatusAssigned, ag2, 2*time.Minute)
	mk(models.StatusQueued, "", 3*time.Minute)

	// All conversations of ag-1, newest first.
	got, err := client.ListConversations(ctx, &database.FindConversations{AgentID: &ag1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)

	// Agent + status filter.
	got, err = client.ListConversations(ctx, &database.FindConversations{
		AgentID:  &ag1,
		Statuses: []models.ConversationStatus{models.StatusAssigned},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	// Status-only filter spans agents.
	got, err = client.ListConversations(ctx, &database.FindConversations{
		Statuses: []models.ConversationStatus{models.StatusAssigned},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c.ID, got[0].ID)

	// Limit caps the result.
	got, err = client.ListConversations(ctx, &database.FindConversations{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
