package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

type recordingHandler struct {
	mu        sync.Mutex
	lifecycle []*Envelope
	messages  []*models.Message
}

func (h *recordingHandler) HandleLifecycleEvent(_ context.Context, env *Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lifecycle = append(h.lifecycle, env)
}

func (h *recordingHandler) HandleMessageEvent(_ context.Context, _ *Envelope, msg *models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lifecycle), len(h.messages)
}

func (h *recordingHandler) lifecycleTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]string, 0, len(h.lifecycle))
	for _, env := range h.lifecycle {
		types = append(types, env.Type)
	}
	return types
}

func TestSubscriberDispatchesBothClasses(t *testing.T) {
	client, keys, _ := newTestBus(t)

	h := &recordingHandler{}
	s := NewSubscriber(client, keys, h)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	assert.True(t, s.Running())

	p := NewPublisher(client, keys)
	conv := testConversation("c-1")
	conv.Status = models.StatusAssigned
	p.PublishAccepted(context.Background(), conv)
	p.PublishMessage(context.Background(), &models.Message{
		ID:             "m-1",
		ConversationID: "c-1",
		Sender:         models.Participant{ID: "cust-1", Type: models.ParticipantCustomer},
		Type:           models.MessageText,
		Content:        "hi there",
		Timestamp:      time.Now().UTC(),
	})

	require.Eventually(t, func() bool {
		lc, mc := h.counts()
		return lc >= 2 && mc >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, h.lifecycleTypes(), EventTypeConversationAccepted)
	assert.Contains(t, h.lifecycleTypes(), EventTypeMessageReceived)

	h.mu.Lock()
	got := h.messages[0]
	h.mu.Unlock()
	assert.Equal(t, "m-1", got.ID)
	assert.Equal(t, "hi there", got.Content)
	assert.Equal(t, models.ParticipantCustomer, got.Sender.Type)
}

func TestSubscriberFansOutToAllHandlers(t *testing.T) {
	client, keys, _ := newTestBus(t)

	h1, h2 := &recordingHandler{}, &recordingHandler{}
	s := NewSubscriber(client, keys, h1, h2)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	NewPublisher(client, keys).PublishStarted(context.Background(), testConversation("c-1"))

	require.Eventually(t, func() bool {
		lc1, _ := h1.counts()
		lc2, _ := h2.counts()
		return lc1 == 1 && lc2 == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriberStopIsIdempotent(t *testing.T) {
	client, keys, _ := newTestBus(t)

	s := NewSubscriber(client, keys, &recordingHandler{})
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()
}

func TestSubscriberIgnoresGarbage(t *testing.T) {
	client, keys, _ := newTestBus(t)

	h := &recordingHandler{}
	s := NewSubscriber(client, keys, h)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	// Garbage on the channel is logged and skipped; the loop keeps serving.
	require.NoError(t, client.Publish(context.Background(), keys.LifecycleChannel(), "not json").Err())
	NewPublisher(client, keys).PublishStarted(context.Background(), testConversation("c-1"))

	require.Eventually(t, func() bool {
		lc, _ := h.counts()
		return lc == 1
	}, 2*time.Second, 10*time.Millisecond)
}
