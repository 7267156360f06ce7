// Package analytics republishes bus envelopes to Kafka for the reporting
// warehouse. The forwarder is a plain bus handler: it never sits on a user
// path, and a produce failure is logged and counted, never surfaced.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/metrics"
	"github.com/parleyhq/parley/pkg/models"
)

// Kafka topics. Envelopes go out verbatim, keyed by conversation id so one
// conversation's history lands on one partition in order.
const (
	TopicLifecycle = "chat.lifecycle"
	TopicMessages  = "chat.messages"
)

// producer is the slice of kgo.Client the forwarder uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// Forwarder implements events.Handler over a Kafka producer.
type Forwarder struct {
	client producer
}

// NewForwarder connects a Kafka producer per the analytics config. Callers
// should not construct one when cfg.Enabled() is false.
func NewForwarder(cfg *config.AnalyticsConfig) (*Forwarder, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Forwarder{client: client}, nil
}

// newForwarderWithProducer is the test seam.
func newForwarderWithProducer(p producer) *Forwarder {
	return &Forwarder{client: p}
}

// HandleLifecycleEvent forwards one lifecycle envelope to chat.lifecycle.
func (f *Forwarder) HandleLifecycleEvent(ctx context.Context, env *events.Envelope) {
	f.forward(ctx, TopicLifecycle, env)
}

// HandleMessageEvent forwards one message envelope to chat.messages.
func (f *Forwarder) HandleMessageEvent(ctx context.Context, env *events.Envelope, _ *models.Message) {
	f.forward(ctx, TopicMessages, env)
}

func (f *Forwarder) forward(ctx context.Context, topic string, env *events.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to encode analytics envelope",
			"topic", topic,
			"event_type", env.Type,
			"error", err)
		metrics.AnalyticsForwardFailures.WithLabelValues(topic).Inc()
		return
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(env.ConversationID),
		Value: raw,
	}
	f.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			slog.Warn("Analytics record failed to produce",
				"topic", topic,
				"event_type", env.Type,
				"conversation_id", env.ConversationID,
				"error", err)
			metrics.AnalyticsForwardFailures.WithLabelValues(topic).Inc()
		}
	})
}

// Close flushes buffered records and releases the producer.
func (f *Forwarder) Close(ctx context.Context) error {
	err := f.client.Flush(ctx)
	f.client.Close()
	return err
}
