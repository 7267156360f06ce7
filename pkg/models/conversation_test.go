package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ConversationStatus
		to      ConversationStatus
		allowed bool
	}{
		{"open to queued", StatusOpen, StatusQueued, true},
		{"open to closed", StatusOpen, StatusClosed, true},
		{"open to assigned skips queue", StatusOpen, StatusAssigned, false},
		{"queued to assigned", StatusQueued, StatusAssigned, true},
		{"queued re-queue", StatusQueued, StatusQueued, true},
		{"queued to closed", StatusQueued, StatusClosed, true},
		{"assigned back to queued", StatusAssigned, StatusQueued, true},
		{"assigned to closed", StatusAssigned, StatusClosed, true},
		{"closed is terminal", StatusClosed, StatusQueued, false},
		{"closed cannot reopen", StatusClosed, StatusOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusOpen.Valid())
	assert.True(t, StatusClosed.Valid())
	assert.False(t, ConversationStatus("ARCHIVED").Valid())
	assert.True(t, StatusClosed.Terminal())
	assert.False(t, StatusAssigned.Terminal())
}

func TestAssignedTo(t *testing.T) {
	conv := &Conversation{
		ID:       "c-1",
		Customer: Participant{ID: "cust-1", Type: ParticipantCustomer},
		Status:   StatusAssigned,
		Agent:    &Participant{ID: "ag-1", Type: ParticipantAgent},
	}

	assert.True(t, conv.AssignedTo("ag-1"))
	assert.False(t, conv.AssignedTo("ag-2"))

	conv.Agent = nil
	assert.False(t, conv.AssignedTo("ag-1"))
}

func TestQueueEntryScore(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := QueueEntry{ConversationID: "c-1", CustomerID: "cust-1", EnqueuedAt: at.UnixMilli()}

	assert.Equal(t, float64(at.UnixMilli()), entry.Score())
	assert.True(t, entry.EnqueuedTime().Equal(at))
}
