package events

import (
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/pkg/models"
)

// ConversationStartedPayload is the payload for CONVERSATION_STARTED events.
type ConversationStartedPayload struct {
	Conversation *models.Conversation `json:"conversation"`
}

// ConversationQueuedPayload is the payload for CONVERSATION_QUEUED events.
// QueuePosition is the 1-based position at enqueue time; later events do not
// revise it.
type ConversationQueuedPayload struct {
	Conversation  *models.Conversation `json:"conversation"`
	QueuePosition int                  `json:"queuePosition"`
}

// ConversationAcceptedPayload is the payload for CONVERSATION_ACCEPTED
// events. The accepting agent rides inside the conversation record.
type ConversationAcceptedPayload struct {
	Conversation *models.Conversation `json:"conversation"`
}

// ConversationReassignedPayload is the payload for CONVERSATION_REASSIGNED
// events, emitted when a conversation leaves an agent and returns to the
// queue. ExAgentID names the agent losing it so their console can drop the
// chat from ACTIVE.
type ConversationReassignedPayload struct {
	Conversation *models.Conversation `json:"conversation"`
	ExAgentID    string               `json:"exAgentId"`
}

// ConversationClosedPayload is the payload for CONVERSATION_CLOSED events.
type ConversationClosedPayload struct {
	Conversation *models.Conversation `json:"conversation"`
	ClosedBy     *models.Participant  `json:"closedBy,omitempty"`
}

// MessageReceivedPayload is the payload for MESSAGE_RECEIVED lifecycle
// events. The message channel carries the same Message as its envelope
// payload directly.
type MessageReceivedPayload struct {
	Message *models.Message `json:"message"`
}

// DecodeMessage decodes a message-channel envelope payload.
func DecodeMessage(env *Envelope) (*models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message payload of event %s: %w", env.EventID, err)
	}
	return &msg, nil
}
