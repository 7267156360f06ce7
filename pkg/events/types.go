// Package events carries coordinator events between instances over Redis
// pub/sub.
//
// Two channels exist, one per event class:
//
//   - lifecycle: conversation state transitions. Gateways translate these
//     into room broadcasts and queue snapshot pushes.
//   - messages: accepted chat messages, carried in full so a gateway on any
//     instance can paint them into the right room.
//
// Delivery is at-least-once. A reconnecting subscriber may replay envelopes,
// so consumers dedupe by EventID (clients additionally dedupe messages by
// message id). Publishing is never on the caller's critical path: a failed
// publish is retried in the background and eventually dropped, not surfaced
// to the user action that produced it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// Lifecycle event types.
const (
	EventTypeConversationStarted    = "CONVERSATION_STARTED"
	EventTypeConversationQueued     = "CONVERSATION_QUEUED"
	EventTypeConversationAccepted   = "CONVERSATION_ACCEPTED"
	EventTypeConversationReassigned = "CONVERSATION_REASSIGNED"
	EventTypeConversationClosed     = "CONVERSATION_CLOSED"
	EventTypeMessageReceived        = "MESSAGE_RECEIVED"
)

// Envelope is the wire frame shared by both channels. Payload holds the
// type-specific body from payloads.go; message-channel envelopes carry the
// full Message.
type Envelope struct {
	EventID        string          `json:"eventId"`
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Payload        json.RawMessage `json:"payload"`
}

// Handler consumes envelopes received from the bus. Implementations must be
// idempotent under redelivery and must not block the receive loop for long;
// slow work belongs on the handler's own goroutines.
type Handler interface {
	// HandleLifecycleEvent receives one lifecycle-channel envelope.
	HandleLifecycleEvent(ctx context.Context, env *Envelope)

	// HandleMessageEvent receives one message-channel envelope with its
	// decoded Message.
	HandleMessageEvent(ctx context.Context, env *Envelope, msg *models.Message)
}
