// Package metrics declares the coordinator's Prometheus collectors. All
// collectors register against the default registry and are served by the API
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ConversationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_conversation_transitions_total",
	Help: "counter of conversation lifecycle transitions by kind",
}, []string{"transition"})

var ClaimOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_claim_outcomes_total",
	Help: "counter of queue claim attempts by outcome",
}, []string{"outcome"})

var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "parley_queue_depth",
	Help: "number of conversations currently waiting in the shared queue",
})

var MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_messages_total",
	Help: "counter of accepted chat messages by sender type",
}, []string{"sender_type"})

var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_events_published_total",
	Help: "counter of bus envelopes published by event type",
}, []string{"type"})

var EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_events_dropped_total",
	Help: "counter of bus envelopes dropped after exhausting publish retries",
}, []string{"type"})

var GatewaySessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "parley_gateway_sessions",
	Help: "currently connected websocket sessions by role",
}, []string{"role"})

var LockContention = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_lock_contention_total",
	Help: "counter of lock acquisitions abandoned at the acquire timeout",
}, []string{"lock"})

var AnalyticsForwardFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parley_analytics_forward_failures_total",
	Help: "counter of analytics records that failed to reach Kafka",
}, []string{"topic"})
