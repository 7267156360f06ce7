// Package gateway fans coordinator events out to websocket clients and feeds
// client frames back into the coordinator.
//
// Each instance keeps its own session and room registries; cross-instance
// delivery rides the event bus, so a message accepted anywhere reaches rooms
// everywhere. Sender identity is bound once at handshake and never taken
// from a client frame, so a client cannot speak as another party.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/identity"
	"github.com/parleyhq/parley/pkg/metrics"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/presence"
)

// defaultWriteTimeout bounds one send to one client. A session that cannot
// drain a frame within it is closed rather than allowed to stall broadcasts.
const defaultWriteTimeout = 5 * time.Second

// Handshake role query values.
const (
	paramRoleCustomer = "customer"
	paramRoleAgent    = "agent"
	paramScopeQueue   = "queue"
)

// Session roles after handshake branching.
const (
	roleCustomer          = "customer"
	roleAgentConversation = "agent-conversation"
	roleAgentQueue        = "agent-queue"
)

// HandshakeParams are the query parameters of a websocket connection
// request.
type HandshakeParams struct {
	Role           string
	Token          string
	DisplayName    string
	ConversationID string
	Fingerprint    string
	Scope          string
}

// session is one connected client. Identity and room binding are fixed at
// handshake; the read loop is the only goroutine reading conn, while writes
// may come from the read loop and the event dispatcher concurrently.
type session struct {
	id             string
	role           string
	participant    models.Participant
	conversationID string

	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Gateway is the per-instance websocket session registry. One Gateway exists
// per process.
type Gateway struct {
	coord    *coordinator.Coordinator
	identity *identity.Resolver
	presence *presence.Tracker

	mu       sync.RWMutex
	sessions map[string]*session
	rooms    map[string]map[string]*session
	watchers map[string]*session

	writeTimeout time.Duration
	snapshotMax  int
}

// New creates a gateway over the coordinator.
func New(coord *coordinator.Coordinator, resolver *identity.Resolver, tracker *presence.Tracker, queueCfg *config.QueueConfig) *Gateway {
	return &Gateway{
		coord:        coord,
		identity:     resolver,
		presence:     tracker,
		sessions:     make(map[string]*session),
		rooms:        make(map[string]map[string]*session),
		watchers:     make(map[string]*session),
		writeTimeout: defaultWriteTimeout,
		snapshotMax:  queueCfg.BroadcastMaxEntries,
	}
}

// HandleConnection runs one client session over an accepted websocket
// connection. Blocks until the connection closes.
func (g *Gateway) HandleConnection(parentCtx context.Context, conn *websocket.Conn, params HandshakeParams) {
	s, err := g.handshake(parentCtx, conn, params)
	if err != nil {
		g.reject(conn, err)
		return
	}
	defer g.teardown(s)

	g.readLoop(s)
}

// ActiveSessions returns the number of connected sessions on this instance.
func (g *Gateway) ActiveSessions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// handshake resolves identity, binds the session to a conversation room or
// the queue-watcher set, and confirms with a system:event frame.
func (g *Gateway) handshake(parentCtx context.Context, conn *websocket.Conn, params HandshakeParams) (*session, error) {
	participant, err := g.resolveParticipant(params)
	if err != nil {
		return nil, err
	}

	var role string
	var conv *models.Conversation
	switch {
	case participant.IsAgent() && params.ConversationID == "" && params.Scope == paramScopeQueue:
		role = roleAgentQueue
	case params.ConversationID != "":
		conv, err = g.coord.Get(parentCtx, params.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv.Closed() {
			return nil, errors.New("conversation is already closed")
		}
		if participant.IsAgent() {
			role = roleAgentConversation
		} else {
			role = roleCustomer
		}
	case participant.IsCustomer():
		// A customer without a conversation gets a fresh one.
		conv, err = g.coord.Start(parentCtx, participant, nil)
		if err != nil {
			return nil, err
		}
		role = roleCustomer
	default:
		return nil, errors.New("agents must join with a conversationId or scope=queue")
	}

	if err := g.presence.MarkPresent(parentCtx, participant.ID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parentCtx)
	s := &session{
		id:          uuid.NewString(),
		role:        role,
		participant: participant,
		conn:        conn,
		ctx:         ctx,
		cancel:      cancel,
	}
	if conv != nil {
		s.conversationID = conv.ID
	}
	g.register(s)

	if err := g.send(s, serverFrame{
		Event: eventSystemEvent,
		Data:  handshakeData{Participant: participant, Conversation: conv},
	}); err != nil {
		g.teardown(s)
		return nil, fmt.Errorf("handshake confirmation failed: %w", err)
	}
	if s.role == roleAgentQueue {
		g.sendSnapshotTo(parentCtx, s)
	}

	slog.Info("Websocket client connected",
		"session_id", s.id,
		"role", s.role,
		"participant_id", participant.ID,
		"conversation_id", s.conversationID)
	return s, nil
}

func (g *Gateway) resolveParticipant(params HandshakeParams) (models.Participant, error) {
	switch strings.ToLower(params.Role) {
	case paramRoleAgent:
		return g.identity.ResolveAgent(params.Token, params.DisplayName, nil)
	case paramRoleCustomer:
		return g.identity.ResolveCustomer(params.Token, params.Fingerprint, params.DisplayName, nil)
	default:
		return models.Participant{}, fmt.Errorf("unsupported role %q", params.Role)
	}
}

// reject answers a failed handshake with system:error and drops the
// connection.
func (g *Gateway) reject(conn *websocket.Conn, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.writeTimeout)
	defer cancel()

	data, err := json.Marshal(serverFrame{
		Event: eventSystemError,
		Data:  frameError{Message: cause.Error()},
	})
	if err == nil {
		_ = conn.Write(ctx, websocket.MessageText, data)
	}
	_ = conn.Close(websocket.StatusPolicyViolation, "handshake rejected")
	slog.Warn("Websocket handshake rejected", "error", cause)
}

func (g *Gateway) register(s *session) {
	g.mu.Lock()
	g.sessions[s.id] = s
	if s.conversationID != "" {
		room := g.rooms[s.conversationID]
		if room == nil {
			room = make(map[string]*session)
			g.rooms[s.conversationID] = room
		}
		room[s.id] = s
	}
	if s.role == roleAgentQueue {
		g.watchers[s.id] = s
	}
	g.mu.Unlock()

	metrics.GatewaySessions.WithLabelValues(s.role).Inc()
}

// teardown releases a session's registrations and marks the participant
// absent. Idempotent: the read loop's deferred call and an event-driven
// disconnect may both land here.
func (g *Gateway) teardown(s *session) {
	g.mu.Lock()
	if _, ok := g.sessions[s.id]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.sessions, s.id)
	if room, ok := g.rooms[s.conversationID]; ok {
		delete(room, s.id)
		if len(room) == 0 {
			delete(g.rooms, s.conversationID)
		}
	}
	delete(g.watchers, s.id)
	g.mu.Unlock()

	metrics.GatewaySessions.WithLabelValues(s.role).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	if err := g.presence.MarkAbsent(ctx, s.participant.ID); err != nil {
		slog.Warn("Failed to mark participant absent",
			"participant_id", s.participant.ID,
			"error", err)
	}
	cancel()

	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	slog.Info("Websocket client disconnected",
		"session_id", s.id,
		"role", s.role)
}

func (g *Gateway) readLoop(s *session) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid websocket frame",
				"session_id", s.id,
				"error", err)
			continue
		}

		switch frame.Event {
		case eventChatMessage:
			g.handleChatMessage(s, frame)
		default:
			slog.Debug("Ignoring unknown client event",
				"session_id", s.id,
				"event", frame.Event)
		}
	}
}

func (g *Gateway) handleChatMessage(s *session, frame clientFrame) {
	var payload chatMessagePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		g.ack(s, frame.Ack, nil, fmt.Errorf("malformed chat:message payload: %w", err))
		return
	}
	conversationID := payload.ConversationID
	if conversationID == "" {
		conversationID = s.conversationID
	}
	if conversationID == "" {
		g.ack(s, frame.Ack, nil, errors.New("conversationId is required"))
		return
	}

	msg, err := g.coord.SendMessage(s.ctx, conversationID, s.participant, payload.Content, payload.Type)
	g.ack(s, frame.Ack, msg, err)
}

// ack answers a client frame that asked for one, with either the accepted
// message or the failure.
func (g *Gateway) ack(s *session, id *int64, msg *models.Message, cause error) {
	if id == nil {
		return
	}
	frame := serverFrame{Event: eventAck, Ack: id}
	if cause != nil {
		frame.Error = &frameError{Message: cause.Error()}
	} else {
		frame.Data = msg
	}
	if err := g.send(s, frame); err != nil {
		slog.Warn("Failed to ack client frame",
			"session_id", s.id,
			"error", err)
	}
}

// send writes one frame under the session write timeout.
func (g *Gateway) send(s *session, frame serverFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, g.writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// broadcastToRoom fans a frame out to every session in the conversation's
// room. Members are snapshotted first so a slow write never holds the
// registry lock; an unwritable session is canceled, which ends its read
// loop and tears it down.
func (g *Gateway) broadcastToRoom(conversationID string, frame serverFrame) {
	g.mu.RLock()
	members := make([]*session, 0, len(g.rooms[conversationID]))
	for _, s := range g.rooms[conversationID] {
		members = append(members, s)
	}
	g.mu.RUnlock()

	for _, s := range members {
		if err := g.send(s, frame); err != nil {
			slog.Warn("Dropping unwritable session",
				"session_id", s.id,
				"error", err)
			s.cancel()
		}
	}
}

// pushQueueSnapshot sends the current queue head to every watcher.
func (g *Gateway) pushQueueSnapshot(ctx context.Context) {
	g.mu.RLock()
	watchers := make([]*session, 0, len(g.watchers))
	for _, s := range g.watchers {
		watchers = append(watchers, s)
	}
	g.mu.RUnlock()
	if len(watchers) == 0 {
		return
	}

	frame, err := g.snapshotFrame(ctx)
	if err != nil {
		slog.Error("Queue snapshot read failed", "error", err)
		return
	}
	for _, s := range watchers {
		if err := g.send(s, frame); err != nil {
			slog.Warn("Dropping unwritable queue watcher",
				"session_id", s.id,
				"error", err)
			s.cancel()
		}
	}
}

func (g *Gateway) sendSnapshotTo(ctx context.Context, s *session) {
	frame, err := g.snapshotFrame(ctx)
	if err != nil {
		slog.Error("Queue snapshot read failed", "error", err)
		return
	}
	if err := g.send(s, frame); err != nil {
		slog.Warn("Failed to send initial queue snapshot",
			"session_id", s.id,
			"error", err)
	}
}

// snapshotFrame reads the queue head, normalizing nil to an empty list so
// clients always receive a JSON array.
func (g *Gateway) snapshotFrame(ctx context.Context) (serverFrame, error) {
	entries, err := g.coord.QueueSnapshot(ctx, g.snapshotMax)
	if err != nil {
		return serverFrame{}, err
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	return serverFrame{Event: eventQueueSnapshot, Data: entries}, nil
}

// disconnectRoom closes every session in the conversation's room. By the
// time this runs the closure notice is already on the wire.
func (g *Gateway) disconnectRoom(conversationID string) {
	g.mu.RLock()
	members := make([]*session, 0, len(g.rooms[conversationID]))
	for _, s := range g.rooms[conversationID] {
		members = append(members, s)
	}
	g.mu.RUnlock()

	for _, s := range members {
		_ = s.conn.Close(websocket.StatusNormalClosure, "conversation closed")
		s.cancel()
	}
}
