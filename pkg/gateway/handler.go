package gateway

import (
	"context"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
)

// HandleLifecycleEvent relays a lifecycle transition to the conversation's
// room and refreshes queue watchers when queue membership may have changed.
// Envelopes arrive from every instance, including this one, so local sessions
// see the same stream as remote ones.
func (g *Gateway) HandleLifecycleEvent(ctx context.Context, env *events.Envelope) {
	switch env.Type {
	case events.EventTypeMessageReceived:
		// Room delivery of messages rides the message channel; relaying the
		// lifecycle echo would paint every message twice.
		return
	case events.EventTypeConversationStarted:
		// The starting client already holds the record from its handshake
		// and no room exists yet.
		return
	case events.EventTypeConversationQueued,
		events.EventTypeConversationAccepted,
		events.EventTypeConversationReassigned,
		events.EventTypeConversationClosed:
		g.broadcastToRoom(env.ConversationID, serverFrame{
			Event: eventSystemEvent,
			Data:  env,
		})
		g.pushQueueSnapshot(ctx)
		if env.Type == events.EventTypeConversationClosed {
			// The closure notice precedes this envelope on the bus, so by
			// now every member has it.
			g.disconnectRoom(env.ConversationID)
		}
	}
}

// HandleMessageEvent paints an accepted message into the conversation's room.
func (g *Gateway) HandleMessageEvent(ctx context.Context, env *events.Envelope, msg *models.Message) {
	g.broadcastToRoom(msg.ConversationID, serverFrame{
		Event: eventChatMessage,
		Data:  msg,
	})
}
