// Package api exposes the coordinator over HTTP and websocket.
//
// The REST surface carries the operator and widget flows that do not need a
// live socket; /ws upgrades into the gateway for everything realtime. All
// responses are JSON and all coordinator errors map onto the HTTP taxonomy in
// errors.go.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/gateway"
)

// Server wires the HTTP surface over the coordinator and gateway.
type Server struct {
	cfg  *config.Config
	echo *echo.Echo
	http *http.Server

	dbClient   *database.Client
	kvClient   redis.UniversalClient
	coord      *coordinator.Coordinator
	gateway    *gateway.Gateway
	subscriber *events.Subscriber
}

// NewServer creates the HTTP server with all routes registered. The
// subscriber is optional at construction time and injected with
// SetSubscriber before ValidateWiring.
func NewServer(cfg *config.Config, dbClient *database.Client, kvClient redis.UniversalClient, coord *coordinator.Coordinator, gw *gateway.Gateway) *Server {
	s := &Server{
		cfg:      cfg,
		dbClient: dbClient,
		kvClient: kvClient,
		coord:    coord,
		gateway:  gw,
	}
	s.echo = echo.New()
	s.setupRoutes()
	return s
}

// SetSubscriber wires the event-bus subscriber used by the health check.
func (s *Server) SetSubscriber(sub *events.Subscriber) {
	s.subscriber = sub
}

// ValidateWiring verifies that every dependency a route relies on is set.
// Catches incomplete construction before the listener opens.
func (s *Server) ValidateWiring() error {
	var missing []string
	if s.cfg == nil {
		missing = append(missing, "config")
	}
	if s.dbClient == nil {
		missing = append(missing, "dbClient")
	}
	if s.kvClient == nil {
		missing = append(missing, "kvClient")
	}
	if s.coord == nil {
		missing = append(missing, "coordinator")
	}
	if s.gateway == nil {
		missing = append(missing, "gateway")
	}
	if s.subscriber == nil {
		missing = append(missing, "subscriber")
	}
	if len(missing) > 0 {
		return fmt.Errorf("server wiring incomplete: missing %v", missing)
	}
	return nil
}

func (s *Server) setupRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})
	e.GET("/ws", s.wsHandler)

	e.POST("/api/conversations", s.startConversationHandler)
	e.POST("/api/conversations/:id/queue", s.queueConversationHandler)
	e.GET("/api/conversations/:id/messages", s.listMessagesHandler)
	e.POST("/api/conversations/:id/messages", s.postMessageHandler)
	e.DELETE("/api/conversations/:id", s.closeConversationHandler)

	e.GET("/api/agent/queue", s.agentQueueHandler)
	e.POST("/api/agent/conversations/:id/accept", s.acceptConversationHandler)
	e.GET("/api/agent/conversations", s.agentConversationsHandler)
	e.GET("/api/agent/conversations/:id/messages", s.agentMessagesHandler)
	e.POST("/api/agent/conversations/:id/close", s.agentCloseHandler)
}

// Start listens on addr and serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// StartWithListener serves on an already-bound listener. Used by tests that
// need an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.Serve(ln)
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
