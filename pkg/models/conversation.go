package models

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "OPEN"
	StatusQueued   ConversationStatus = "QUEUED"
	StatusAssigned ConversationStatus = "ASSIGNED"
	StatusClosed   ConversationStatus = "CLOSED"
)

// statusTransitions encodes the legal lifecycle edges. QUEUED → QUEUED covers
// an idempotent re-queue; ASSIGNED → QUEUED covers abandonment and lease
// expiry. CLOSED is terminal.
var statusTransitions = map[ConversationStatus][]ConversationStatus{
	StatusOpen:     {StatusQueued, StatusClosed},
	StatusQueued:   {StatusQueued, StatusAssigned, StatusClosed},
	StatusAssigned: {StatusQueued, StatusClosed},
	StatusClosed:   {},
}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal reports whether s admits no further transitions.
func (s ConversationStatus) Terminal() bool { return s == StatusClosed }

// CanTransitionTo reports whether the edge s → next is legal.
func (s ConversationStatus) CanTransitionTo(next ConversationStatus) bool {
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Conversation is one customer-agent chat session, the lifecycle unit of the
// coordinator. Once CLOSED, no field other than UpdatedAt may mutate.
type Conversation struct {
	ID         string             `json:"id"`
	Customer   Participant        `json:"customer"`
	Agent      *Participant       `json:"agent,omitempty"`
	Status     ConversationStatus `json:"status"`
	Channel    string             `json:"channel,omitempty"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	AcceptedAt *time.Time         `json:"acceptedAt,omitempty"`
	ClosedAt   *time.Time         `json:"closedAt,omitempty"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// Closed reports whether the conversation reached its terminal state.
func (c *Conversation) Closed() bool { return c.Status == StatusClosed }

// AssignedTo reports whether the conversation is currently held by agentID.
func (c *Conversation) AssignedTo(agentID string) bool {
	return c.Agent != nil && c.Agent.ID == agentID
}
