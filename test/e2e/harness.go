// Package e2e boots complete service instances (HTTP listener, websocket
// gateway, Redis bus, Postgres audit store) and drives full conversation
// journeys against them over the wire.
//
// Each TestApp is one instance. Multi-instance tests share a Redis and a
// database schema across several TestApps so events must travel the bus to
// reach the other instance's sockets.
package e2e

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/assignment"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/gateway"
	"github.com/parleyhq/parley/pkg/identity"
	"github.com/parleyhq/parley/pkg/keyspace"
	"github.com/parleyhq/parley/pkg/locks"
	"github.com/parleyhq/parley/pkg/messagelog"
	"github.com/parleyhq/parley/pkg/presence"
	"github.com/parleyhq/parley/pkg/queue"
	testdb "github.com/parleyhq/parley/test/database"
)

// TestApp is one fully wired service instance listening on an ephemeral
// port. Internals stay exported so scenarios can reach behind the HTTP
// surface when they need to backdate a queue entry or run a sweep by hand.
type TestApp struct {
	Config      *config.Config
	Keys        keyspace.Keyspace
	Redis       *miniredis.Miniredis
	KVClient    redis.UniversalClient
	DBClient    *database.Client
	Queue       *queue.Engine
	Registry    *assignment.Registry
	Coordinator *coordinator.Coordinator
	Gateway     *gateway.Gateway
	Publisher   *events.Publisher
	Subscriber  *events.Subscriber
	Sweeper     *coordinator.Sweeper
	Server      *api.Server

	BaseURL string
	WSURL   string
}

type testAppConfig struct {
	mr          *miniredis.Miniredis
	dbClient    *database.Client
	mutate      func(*config.Config)
	busHandlers []events.Handler
}

// TestAppOption customizes TestApp construction.
type TestAppOption func(*testAppConfig)

// WithRedis shares an existing miniredis between instances. Required for
// multi-instance tests, where the bus and queue must be common state.
func WithRedis(mr *miniredis.Miniredis) TestAppOption {
	return func(tc *testAppConfig) { tc.mr = mr }
}

// WithDBClient shares a database client so instances read and write the same
// audit schema. Pair with testdb.NewSharedTestDB.
func WithDBClient(client *database.Client) TestAppOption {
	return func(tc *testAppConfig) { tc.dbClient = client }
}

// WithConfig mutates the instance configuration before wiring.
func WithConfig(mutate func(*config.Config)) TestAppOption {
	return func(tc *testAppConfig) { tc.mutate = mutate }
}

// WithBusHandler registers an extra bus handler after the gateway, letting a
// test record the envelopes this instance receives.
func WithBusHandler(h events.Handler) TestAppOption {
	return func(tc *testAppConfig) { tc.busHandlers = append(tc.busHandlers, h) }
}

// NewTestApp wires a complete instance: Redis (miniredis), Postgres
// (testcontainer schema), coordinator, gateway, bus subscriber, sweeper, and
// the HTTP server on 127.0.0.1:0. Everything is torn down in reverse order
// when the test finishes.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	var tc testAppConfig
	for _, opt := range opts {
		opt(&tc)
	}

	cfg := &config.Config{
		Server:     config.DefaultServerConfig(),
		Redis:      config.DefaultRedisConfig(),
		Queue:      config.DefaultQueueConfig(),
		Assignment: config.DefaultAssignmentConfig(),
		Message:    config.DefaultMessageConfig(),
		Lock:       config.DefaultLockConfig(),
		Presence:   config.DefaultPresenceConfig(),
		Analytics:  config.DefaultAnalyticsConfig(),
	}
	// Tests sweep by hand; a long interval keeps the background loop out of
	// the way after the startup pass.
	cfg.Queue.SweepInterval = time.Hour
	cfg.Lock.AcquireTimeout = 2 * time.Second
	cfg.Lock.RetryInterval = 10 * time.Millisecond
	if tc.mutate != nil {
		tc.mutate(cfg)
	}

	mr := tc.mr
	if mr == nil {
		mr = miniredis.RunT(t)
	}
	cfg.Redis.Addr = mr.Addr()
	kvClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dbClient := tc.dbClient
	if dbClient == nil {
		dbClient = testdb.NewTestClient(t)
	}

	keys := keyspace.New(cfg.Redis.Prefix)
	publisher := events.NewPublisher(kvClient, keys)
	tracker := presence.NewTracker(kvClient, keys, cfg.Presence.TTL)
	engine := queue.NewEngine(kvClient, keys)
	registry := assignment.NewRegistry(kvClient, keys, cfg.Queue.PerAgentConcurrency, cfg.Assignment.LeaseTTL)

	coord := coordinator.New(coordinator.Deps{
		Locks:     locks.NewManager(kvClient, cfg.Lock),
		Keys:      keys,
		Queue:     engine,
		Registry:  registry,
		Presence:  tracker,
		Tail:      messagelog.NewLog(kvClient, keys, cfg.Message.Retention, cfg.Message.TailLimit),
		Store:     dbClient,
		Publisher: publisher,
		Messages:  cfg.Message,
	})

	sweeper := coordinator.NewSweeper(coord, cfg.Queue)
	sweeper.Start(context.Background())

	gw := gateway.New(coord, identity.NewResolver(), tracker, cfg.Queue)

	handlers := append([]events.Handler{gw}, tc.busHandlers...)
	subscriber := events.NewSubscriber(kvClient, keys, handlers...)
	require.NoError(t, subscriber.Start(context.Background()))

	server := api.NewServer(cfg, dbClient, kvClient, coord, gw)
	server.SetSubscriber(subscriber)
	require.NoError(t, server.ValidateWiring())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.StartWithListener(ln) }()

	addr := ln.Addr().String()
	app := &TestApp{
		Config:      cfg,
		Keys:        keys,
		Redis:       mr,
		KVClient:    kvClient,
		DBClient:    dbClient,
		Queue:       engine,
		Registry:    registry,
		Coordinator: coord,
		Gateway:     gw,
		Publisher:   publisher,
		Subscriber:  subscriber,
		Sweeper:     sweeper,
		Server:      server,
		BaseURL:     "http://" + addr,
		WSURL:       "ws://" + addr + "/ws",
	}

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		subscriber.Stop()
		sweeper.Stop()
		_ = publisher.Close(shutdownCtx)
		_ = kvClient.Close()
	})
	return app
}
