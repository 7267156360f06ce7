package gateway

import (
	"encoding/json"

	"github.com/parleyhq/parley/pkg/models"
)

// Wire event names shared with the browser clients.
const (
	eventChatMessage   = "chat:message"
	eventSystemEvent   = "system:event"
	eventSystemError   = "system:error"
	eventQueueSnapshot = "queue:snapshot"
	eventAck           = "ack"
)

// clientFrame is one decoded frame from a client. Ack is a pointer so a
// frame without an ack id gets no ack reply.
type clientFrame struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// serverFrame is one frame sent to a client.
type serverFrame struct {
	Event string      `json:"event"`
	Ack   *int64      `json:"ack,omitempty"`
	Data  any         `json:"data,omitempty"`
	Error *frameError `json:"error,omitempty"`
}

type frameError struct {
	Message string `json:"message"`
}

// chatMessagePayload is the client body of a chat:message frame. The sender
// is never part of the payload; it is bound at handshake.
type chatMessagePayload struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"type"`
}

// handshakeData is the system:event body confirming a successful handshake.
type handshakeData struct {
	Participant  models.Participant   `json:"participant"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
}
