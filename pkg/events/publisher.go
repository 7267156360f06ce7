package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/keyspace"
	"github.com/parleyhq/parley/pkg/metrics"
	"github.com/parleyhq/parley/pkg/models"
)

const (
	publishTimeout     = 2 * time.Second
	publishRetryFirst  = 250 * time.Millisecond
	publishRetryMax    = 5 * time.Second
	publishMaxAttempts = 6
)

// Publisher emits coordinator events onto the bus. Each public method
// accepts the domain objects of one event type; see payloads.go.
//
// The first delivery attempt runs inline (one PUBLISH round trip, detached
// from the caller's cancelation); on failure the envelope moves to a
// background retry loop with capped exponential backoff. Publish methods
// never return errors and never fail the originating transition.
type Publisher struct {
	client redis.UniversalClient
	keys   keyspace.Keyspace

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPublisher creates a publisher over the given client and keyspace.
func NewPublisher(client redis.UniversalClient, keys keyspace.Keyspace) *Publisher {
	return &Publisher{client: client, keys: keys, stopCh: make(chan struct{})}
}

// PublishStarted emits CONVERSATION_STARTED.
func (p *Publisher) PublishStarted(ctx context.Context, conv *models.Conversation) {
	p.publishLifecycle(ctx, EventTypeConversationStarted, conv.ID,
		ConversationStartedPayload{Conversation: conv})
}

// PublishQueued emits CONVERSATION_QUEUED with the position at enqueue time.
func (p *Publisher) PublishQueued(ctx context.Context, conv *models.Conversation, position int) {
	p.publishLifecycle(ctx, EventTypeConversationQueued, conv.ID,
		ConversationQueuedPayload{Conversation: conv, QueuePosition: position})
}

// PublishAccepted emits CONVERSATION_ACCEPTED.
func (p *Publisher) PublishAccepted(ctx context.Context, conv *models.Conversation) {
	p.publishLifecycle(ctx, EventTypeConversationAccepted, conv.ID,
		ConversationAcceptedPayload{Conversation: conv})
}

// PublishReassigned emits CONVERSATION_REASSIGNED naming the agent who lost
// the conversation.
func (p *Publisher) PublishReassigned(ctx context.Context, conv *models.Conversation, exAgentID string) {
	p.publishLifecycle(ctx, EventTypeConversationReassigned, conv.ID,
		ConversationReassignedPayload{Conversation: conv, ExAgentID: exAgentID})
}

// PublishClosed emits CONVERSATION_CLOSED.
func (p *Publisher) PublishClosed(ctx context.Context, conv *models.Conversation, closedBy *models.Participant) {
	p.publishLifecycle(ctx, EventTypeConversationClosed, conv.ID,
		ConversationClosedPayload{Conversation: conv, ClosedBy: closedBy})
}

// PublishMessage emits the message on the message channel and a
// MESSAGE_RECEIVED lifecycle event.
func (p *Publisher) PublishMessage(ctx context.Context, msg *models.Message) {
	p.publish(ctx, p.keys.MessagesChannel(), EventTypeMessageReceived, msg.ConversationID, msg)
	p.publishLifecycle(ctx, EventTypeMessageReceived, msg.ConversationID,
		MessageReceivedPayload{Message: msg})
}

// Close stops background retries and waits for in-flight deliveries.
func (p *Publisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) publishLifecycle(ctx context.Context, eventType, conversationID string, payload any) {
	p.publish(ctx, p.keys.LifecycleChannel(), eventType, conversationID, payload)
}

func (p *Publisher) publish(ctx context.Context, channel, eventType, conversationID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode event payload",
			"type", eventType, "conversation_id", conversationID, "error", err)
		return
	}
	raw, err := json.Marshal(Envelope{
		EventID:        uuid.NewString(),
		Type:           eventType,
		ConversationID: conversationID,
		OccurredAt:     time.Now().UTC(),
		Payload:        body,
	})
	if err != nil {
		slog.Error("Failed to encode event envelope",
			"type", eventType, "conversation_id", conversationID, "error", err)
		return
	}

	// The transition already committed; a canceled request must not abort
	// its event.
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	err = p.client.Publish(attemptCtx, channel, raw).Err()
	cancel()
	if err == nil {
		metrics.EventsPublished.WithLabelValues(eventType).Inc()
		return
	}

	slog.Warn("Event publish failed, retrying in background",
		"type", eventType, "conversation_id", conversationID, "error", err)
	p.wg.Add(1)
	go p.retry(channel, eventType, conversationID, raw)
}

func (p *Publisher) retry(channel, eventType, conversationID string, raw []byte) {
	defer p.wg.Done()

	backoff := publishRetryFirst
	for attempt := 2; attempt <= publishMaxAttempts; attempt++ {
		select {
		case <-p.stopCh:
			metrics.EventsDropped.WithLabelValues(eventType).Inc()
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.client.Publish(ctx, channel, raw).Err()
		cancel()
		if err == nil {
			metrics.EventsPublished.WithLabelValues(eventType).Inc()
			return
		}
		slog.Warn("Event publish retry failed",
			"type", eventType, "conversation_id", conversationID, "attempt", attempt, "error", err)
		backoff = min(backoff*2, publishRetryMax)
	}

	slog.Error("Dropping event after exhausting publish retries",
		"type", eventType, "conversation_id", conversationID)
	metrics.EventsDropped.WithLabelValues(eventType).Inc()
}
