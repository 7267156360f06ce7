package models

import "time"

// MessageType distinguishes participant text from coordinator notices.
type MessageType string

const (
	MessageText MessageType = "TEXT"

	// MessageSystem messages are written only by the coordinator itself
	// (closure notices, purge notices).
	MessageSystem MessageType = "SYSTEM"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageSystem
}

// Message is a single chat message. Messages are append-only and appear to
// every observer in non-decreasing timestamp order per conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Sender         Participant `json:"sender"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
}
