package e2e

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
)

// eventRecorder captures every envelope one instance receives from the bus,
// in arrival order. Registered via WithBusHandler after the gateway so tests
// can assert on the exact event sequence a scenario produced.
type eventRecorder struct {
	mu        sync.Mutex
	lifecycle []events.Envelope
	messages  []*models.Message
}

func newEventRecorder() *eventRecorder { return &eventRecorder{} }

func (r *eventRecorder) HandleLifecycleEvent(_ context.Context, env *events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycle = append(r.lifecycle, *env)
}

func (r *eventRecorder) HandleMessageEvent(_ context.Context, _ *events.Envelope, msg *models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// LifecycleTypes returns the lifecycle event types seen so far, in order.
func (r *eventRecorder) LifecycleTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.lifecycle))
	for i, env := range r.lifecycle {
		types[i] = env.Type
	}
	return types
}

// CountLifecycle returns how many lifecycle events of the given type arrived.
func (r *eventRecorder) CountLifecycle(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, env := range r.lifecycle {
		if env.Type == eventType {
			n++
		}
	}
	return n
}

// MessageContents returns the bodies of message-channel envelopes, in order.
func (r *eventRecorder) MessageContents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, msg := range r.messages {
		out[i] = msg.Content
	}
	return out
}
