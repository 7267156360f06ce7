package api

import (
	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/models"
)

// StartConversationRequest is the body for POST /api/conversations.
type StartConversationRequest struct {
	DisplayName string            `json:"displayName,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// QueueConversationRequest is the body for POST /api/conversations/:id/queue.
type QueueConversationRequest struct {
	Channel string `json:"channel,omitempty"`
}

// PostMessageRequest is the body for POST /api/conversations/:id/messages.
// The sender travels in the body because this surface serves trusted
// server-side integrations, not end-user sockets.
type PostMessageRequest struct {
	SenderID          string                 `json:"senderId"`
	SenderDisplayName string                 `json:"senderDisplayName,omitempty"`
	SenderType        models.ParticipantType `json:"senderType"`
	Content           string                 `json:"content"`
	Type              models.MessageType     `json:"type,omitempty"`
}

// sender validates the body's sender fields into a participant. SYSTEM is
// reserved for coordinator notices and rejected here.
func (r *PostMessageRequest) sender() (models.Participant, error) {
	if r.SenderID == "" {
		return models.Participant{}, coordinator.NewValidationError("senderId", "is required")
	}
	switch r.SenderType {
	case models.ParticipantCustomer, models.ParticipantAgent:
	default:
		return models.Participant{}, coordinator.NewValidationError("senderType", "must be CUSTOMER or AGENT")
	}
	return models.Participant{
		ID:          r.SenderID,
		Type:        r.SenderType,
		DisplayName: r.SenderDisplayName,
	}, nil
}

// AgentActionRequest is the body for agent accept and close calls.
type AgentActionRequest struct {
	AgentID     string `json:"agentId"`
	DisplayName string `json:"displayName,omitempty"`
}

// agent validates the body into an agent participant.
func (r *AgentActionRequest) agent() (models.Participant, error) {
	if r.AgentID == "" {
		return models.Participant{}, coordinator.NewValidationError("agentId", "is required")
	}
	return models.Participant{
		ID:          r.AgentID,
		Type:        models.ParticipantAgent,
		DisplayName: r.DisplayName,
	}, nil
}
