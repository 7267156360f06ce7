// Parley coordination server: owns conversation lifecycle, the shared agent
// queue, and realtime fan-out for the support chat platform.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parleyhq/parley/pkg/analytics"
	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/assignment"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/gateway"
	"github.com/parleyhq/parley/pkg/identity"
	"github.com/parleyhq/parley/pkg/keyspace"
	"github.com/parleyhq/parley/pkg/kv"
	"github.com/parleyhq/parley/pkg/locks"
	"github.com/parleyhq/parley/pkg/messagelog"
	"github.com/parleyhq/parley/pkg/presence"
	"github.com/parleyhq/parley/pkg/queue"
	"github.com/parleyhq/parley/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveInstanceID determines the instance identifier for logs.
// Priority: INSTANCE_ID env > HOSTNAME env > "local"
func resolveInstanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	instanceID := resolveInstanceID()
	slog.Info("Starting parley",
		"version", version.GitCommit,
		"instance_id", instanceID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize the audit store (runs migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Connect the ephemeral store
	kvClient, err := kv.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := kvClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)

	// 4. Build the coordination core
	keys := keyspace.New(cfg.Redis.Prefix)
	publisher := events.NewPublisher(kvClient, keys)
	tracker := presence.NewTracker(kvClient, keys, cfg.Presence.TTL)

	coord := coordinator.New(coordinator.Deps{
		Locks:     locks.NewManager(kvClient, cfg.Lock),
		Keys:      keys,
		Queue:     queue.NewEngine(kvClient, keys),
		Registry:  assignment.NewRegistry(kvClient, keys, cfg.Queue.PerAgentConcurrency, cfg.Assignment.LeaseTTL),
		Presence:  tracker,
		Tail:      messagelog.NewLog(kvClient, keys, cfg.Message.Retention, cfg.Message.TailLimit),
		Store:     dbClient,
		Publisher: publisher,
		Messages:  cfg.Message,
	})
	slog.Info("Coordinator initialized",
		"per_agent_concurrency", cfg.Queue.PerAgentConcurrency,
		"lease_ttl", cfg.Assignment.LeaseTTL)

	// 5. Start the background sweeper (stale queue entries, expired leases)
	sweeper := coordinator.NewSweeper(coord, cfg.Queue)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 6. Create the websocket gateway and bus handlers
	gw := gateway.New(coord, identity.NewResolver(), tracker, cfg.Queue)
	handlers := []events.Handler{gw}

	var forwarder *analytics.Forwarder
	if cfg.Analytics.Enabled() {
		forwarder, err = analytics.NewForwarder(cfg.Analytics)
		if err != nil {
			slog.Error("Failed to initialize analytics forwarder", "error", err)
			os.Exit(1)
		}
		handlers = append(handlers, forwarder)
		slog.Info("Analytics forwarder initialized", "brokers", cfg.Analytics.Brokers)
	}

	// 7. Subscribe to the event bus before accepting traffic so no envelope
	// published by another instance is missed behind an open listener.
	subscriber := events.NewSubscriber(kvClient, keys, handlers...)
	if err := subscriber.Start(ctx); err != nil {
		slog.Error("Failed to start event subscriber", "error", err)
		os.Exit(1)
	}

	// 8. Create HTTP server
	httpServer := api.NewServer(cfg, dbClient, kvClient, coord, gw)
	httpServer.SetSubscriber(subscriber)
	if err := httpServer.ValidateWiring(); err != nil {
		slog.Error("Server wiring incomplete", "error", err)
		os.Exit(1)
	}

	// 9. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + getEnv("HTTP_PORT", fmt.Sprint(cfg.Server.Port))
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Parley started successfully", "instance_id", instanceID)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop intake, then fan-out, then flush buffers.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	subscriber.Stop()
	sweeper.Stop()

	flushCtx, flushCancel := context.WithTimeout(ctx, 5*time.Second)
	defer flushCancel()
	if err := publisher.Close(flushCtx); err != nil {
		slog.Warn("Event publisher drain incomplete", "error", err)
	}
	if forwarder != nil {
		if err := forwarder.Close(flushCtx); err != nil {
			slog.Warn("Analytics flush incomplete", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}
