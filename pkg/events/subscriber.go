package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/keyspace"
)

const (
	resubscribeFirst = time.Second
	resubscribeMax   = 30 * time.Second
)

// Subscriber owns this instance's bus subscription: one Redis SUBSCRIBE
// spanning both channels, fanned out to the registered handlers in order.
type Subscriber struct {
	client   redis.UniversalClient
	keys     keyspace.Keyspace
	handlers []Handler

	mu      sync.Mutex
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// NewSubscriber creates a subscriber dispatching to the given handlers.
func NewSubscriber(client redis.UniversalClient, keys keyspace.Keyspace, handlers ...Handler) *Subscriber {
	return &Subscriber{client: client, keys: keys, handlers: handlers}
}

// Start subscribes to both channels and launches the receive loop. The
// subscription is confirmed before Start returns, so an instance that starts
// its subscriber before accepting traffic cannot miss events for requests it
// serves.
func (s *Subscriber) Start(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.keys.LifecycleChannel(), s.keys.MessagesChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to event channels: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.pubsub = pubsub
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	s.running.Store(true)

	go func() {
		defer close(done)
		s.receiveLoop(loopCtx, pubsub)
	}()

	slog.Info("Event subscriber started",
		"channels", []string{s.keys.LifecycleChannel(), s.keys.MessagesChannel()})
	return nil
}

// Running reports whether the receive loop is up; surfaced by /health.
func (s *Subscriber) Running() bool {
	return s.running.Load()
}

// Stop unblocks the receive loop, waits for it to finish, and releases the
// subscription. Safe to call more than once.
func (s *Subscriber) Stop() {
	s.running.Store(false)

	s.mu.Lock()
	pubsub, cancel, done := s.pubsub, s.cancel, s.done
	s.pubsub, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	// Closing the subscription unblocks a pending receive before the loop
	// context is observed.
	if pubsub != nil {
		_ = pubsub.Close()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	slog.Info("Event subscriber stopped")
}

// receiveLoop pulls envelopes until the context is canceled or the
// subscription is closed. go-redis re-establishes the subscription under a
// failed connection; this loop only paces those recovery attempts.
func (s *Subscriber) receiveLoop(ctx context.Context, pubsub *redis.PubSub) {
	backoff := resubscribeFirst
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			slog.Error("Event receive error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, resubscribeMax)
			continue
		}
		backoff = resubscribeFirst
		s.dispatch(ctx, msg)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, msg *redis.Message) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		slog.Error("Discarding undecodable event", "channel", msg.Channel, "error", err)
		return
	}

	switch msg.Channel {
	case s.keys.LifecycleChannel():
		for _, h := range s.handlers {
			h.HandleLifecycleEvent(ctx, &env)
		}
	case s.keys.MessagesChannel():
		m, err := DecodeMessage(&env)
		if err != nil {
			slog.Error("Discarding undecodable message event", "event_id", env.EventID, "error", err)
			return
		}
		for _, h := range s.handlers {
			h.HandleMessageEvent(ctx, &env, m)
		}
	}
}
