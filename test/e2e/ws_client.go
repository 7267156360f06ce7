package e2e

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
)

// WSError is the error object carried by rejection and failed-ack frames.
type WSError struct {
	Message string `json:"message"`
}

// WSEvent is one frame received from the gateway.
type WSEvent struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *WSError        `json:"error,omitempty"`
}

// HandshakeData is the payload of the system:event frame that confirms a
// successful handshake.
type HandshakeData struct {
	Participant  models.Participant   `json:"participant"`
	Conversation *models.Conversation `json:"conversation"`
}

// WSClient wraps a live websocket session. A background goroutine drains
// frames into an ordered buffer; WaitFor-style helpers consume the buffer
// from a cursor so successive waits observe successive frames.
type WSClient struct {
	t      *testing.T
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once

	mu     sync.Mutex
	events []WSEvent
	cursor int
}

// ConnectWS dials the gateway with the given handshake query parameters.
func ConnectWS(t *testing.T, wsURL string, params url.Values) *WSClient {
	t.Helper()

	u := wsURL
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, u, nil)
	require.NoError(t, err, "websocket dial %s", u)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &WSClient{
		t:      t,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.readLoop(readCtx)
	t.Cleanup(c.Close)
	return c
}

// CustomerParams builds handshake parameters for a new customer session.
func CustomerParams(token, displayName string) url.Values {
	return url.Values{
		"role":        {"customer"},
		"token":       {token},
		"displayName": {displayName},
	}
}

// RejoinParams builds handshake parameters for a customer rejoining an
// existing conversation.
func RejoinParams(token, displayName, conversationID string) url.Values {
	params := CustomerParams(token, displayName)
	params.Set("conversationId", conversationID)
	return params
}

// AgentRoomParams builds handshake parameters for an agent joining one
// conversation's room.
func AgentRoomParams(token, displayName, conversationID string) url.Values {
	return url.Values{
		"role":           {"agent"},
		"token":          {token},
		"displayName":    {displayName},
		"conversationId": {conversationID},
	}
}

// AgentQueueParams builds handshake parameters for an agent watching the
// pending queue.
func AgentQueueParams(token, displayName string) url.Values {
	return url.Values{
		"role":        {"agent"},
		"token":       {token},
		"displayName": {displayName},
		"scope":       {"queue"},
	}
}

func (c *WSClient) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var ev WSEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

// Close tears the session down and waits for the read loop to exit. Safe to
// call more than once.
func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.CloseNow()
		<-c.done
	})
}

// Disconnected reports whether the server side ended the session within the
// timeout.
func (c *WSClient) Disconnected(timeout time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WaitFor blocks until a frame at or past the cursor matches, consuming
// everything up to and including the match. Returns false on timeout.
func (c *WSClient) WaitFor(timeout time.Duration, match func(WSEvent) bool) (WSEvent, bool) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		for i := c.cursor; i < len(c.events); i++ {
			if match(c.events[i]) {
				ev := c.events[i]
				c.cursor = i + 1
				c.mu.Unlock()
				return ev, true
			}
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			return WSEvent{}, false
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// WaitForEvent waits for the next frame with the given wire event name.
func (c *WSClient) WaitForEvent(event string, timeout time.Duration) WSEvent {
	c.t.Helper()
	ev, ok := c.WaitFor(timeout, func(ev WSEvent) bool { return ev.Event == event })
	require.True(c.t, ok, "timed out waiting for %q frame", event)
	return ev
}

// WaitForHandshake waits for the handshake confirmation and decodes it.
func (c *WSClient) WaitForHandshake(timeout time.Duration) HandshakeData {
	c.t.Helper()
	ev, ok := c.WaitFor(timeout, func(ev WSEvent) bool {
		if ev.Event != "system:event" {
			return false
		}
		var hs HandshakeData
		return json.Unmarshal(ev.Data, &hs) == nil && hs.Participant.ID != ""
	})
	require.True(c.t, ok, "timed out waiting for handshake")

	var hs HandshakeData
	require.NoError(c.t, json.Unmarshal(ev.Data, &hs))
	return hs
}

// WaitForLifecycle waits for a system:event frame carrying a lifecycle
// envelope of the given type.
func (c *WSClient) WaitForLifecycle(eventType string, timeout time.Duration) events.Envelope {
	c.t.Helper()
	ev, ok := c.WaitFor(timeout, func(ev WSEvent) bool {
		if ev.Event != "system:event" {
			return false
		}
		var env events.Envelope
		return json.Unmarshal(ev.Data, &env) == nil && env.Type == eventType
	})
	require.True(c.t, ok, "timed out waiting for %s lifecycle event", eventType)

	var env events.Envelope
	require.NoError(c.t, json.Unmarshal(ev.Data, &env))
	return env
}

// WaitForChatMessage waits for the next chat:message frame and decodes it.
func (c *WSClient) WaitForChatMessage(timeout time.Duration) models.Message {
	c.t.Helper()
	ev := c.WaitForEvent("chat:message", timeout)

	var msg models.Message
	require.NoError(c.t, json.Unmarshal(ev.Data, &msg))
	return msg
}

// WaitForChatContent waits for a chat:message frame carrying the given body.
// Skips unrelated frames, including the session's own echoes.
func (c *WSClient) WaitForChatContent(content string, timeout time.Duration) models.Message {
	c.t.Helper()
	ev, ok := c.WaitFor(timeout, func(ev WSEvent) bool {
		if ev.Event != "chat:message" {
			return false
		}
		var msg models.Message
		return json.Unmarshal(ev.Data, &msg) == nil && msg.Content == content
	})
	require.True(c.t, ok, "timed out waiting for chat message %q", content)

	var msg models.Message
	require.NoError(c.t, json.Unmarshal(ev.Data, &msg))
	return msg
}

// WaitForSnapshot waits for the next queue:snapshot frame and decodes it.
func (c *WSClient) WaitForSnapshot(timeout time.Duration) []models.QueueEntry {
	c.t.Helper()
	ev := c.WaitForEvent("queue:snapshot", timeout)

	var entries []models.QueueEntry
	require.NoError(c.t, json.Unmarshal(ev.Data, &entries))
	return entries
}

// WaitForAck waits for the ack answering the given client sequence number.
func (c *WSClient) WaitForAck(ack int64, timeout time.Duration) WSEvent {
	c.t.Helper()
	ev, ok := c.WaitFor(timeout, func(ev WSEvent) bool {
		return ev.Event == "ack" && ev.Ack != nil && *ev.Ack == ack
	})
	require.True(c.t, ok, "timed out waiting for ack %d", ack)
	return ev
}

// Send writes one frame to the gateway.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}

// SendChatMessage sends a chat:message frame with the given client sequence
// number.
func (c *WSClient) SendChatMessage(content string, ack int64) {
	c.t.Helper()
	c.Send(map[string]any{
		"event": "chat:message",
		"ack":   ack,
		"data":  map[string]any{"content": content},
	})
}

// Events returns a copy of every frame received so far, consumed or not.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// ChatMessages decodes every chat:message frame received so far.
func (c *WSClient) ChatMessages() []models.Message {
	c.t.Helper()
	var msgs []models.Message
	for _, ev := range c.Events() {
		if ev.Event != "chat:message" {
			continue
		}
		var msg models.Message
		require.NoError(c.t, json.Unmarshal(ev.Data, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}
