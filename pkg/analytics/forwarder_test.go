package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
)

// capturingProducer records produced records and answers promises inline.
type capturingProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
	flushed bool
	closed  bool
}

func (p *capturingProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.mu.Lock()
	p.records = append(p.records, r)
	p.mu.Unlock()
	if promise != nil {
		promise(r, p.err)
	}
}

func (p *capturingProducer) Flush(context.Context) error {
	p.flushed = true
	return nil
}

func (p *capturingProducer) Close() { p.closed = true }

func envelope(eventType, conversationID string) *events.Envelope {
	payload, _ := json.Marshal(map[string]string{"conversationId": conversationID})
	return &events.Envelope{
		EventID:        "evt-1",
		Type:           eventType,
		ConversationID: conversationID,
		OccurredAt:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Payload:        payload,
	}
}

func TestLifecycleEnvelopeGoesToLifecycleTopic(t *testing.T) {
	p := &capturingProducer{}
	f := newForwarderWithProducer(p)

	env := envelope(events.EventTypeConversationAccepted, "conv-1")
	f.HandleLifecycleEvent(context.Background(), env)

	require.Len(t, p.records, 1)
	rec := p.records[0]
	assert.Equal(t, TopicLifecycle, rec.Topic)
	assert.Equal(t, []byte("conv-1"), rec.Key)

	var got events.Envelope
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, env.Type, got.Type)
	assert.JSONEq(t, string(env.Payload), string(got.Payload))
}

func TestMessageEnvelopeGoesToMessagesTopic(t *testing.T) {
	p := &capturingProducer{}
	f := newForwarderWithProducer(p)

	env := envelope(events.EventTypeMessageReceived, "conv-2")
	f.HandleMessageEvent(context.Background(), env, &models.Message{ConversationID: "conv-2"})

	require.Len(t, p.records, 1)
	assert.Equal(t, TopicMessages, p.records[0].Topic)
	assert.Equal(t, []byte("conv-2"), p.records[0].Key)
}

func TestProduceFailureIsSwallowed(t *testing.T) {
	p := &capturingProducer{err: errors.New("broker gone")}
	f := newForwarderWithProducer(p)

	// Must not panic or surface the error anywhere.
	f.HandleLifecycleEvent(context.Background(), envelope(events.EventTypeConversationClosed, "conv-3"))
	require.Len(t, p.records, 1)
}

func TestCloseFlushesBeforeReleasing(t *testing.T) {
	p := &capturingProducer{}
	f := newForwarderWithProducer(p)

	require.NoError(t, f.Close(context.Background()))
	assert.True(t, p.flushed)
	assert.True(t, p.closed)
}
