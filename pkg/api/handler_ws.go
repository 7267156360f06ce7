package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/gateway"
)

// wsHandler upgrades GET /ws and hands the socket to the gateway.
// Identity and room binding happen inside the gateway handshake so a failed
// handshake still answers over the socket instead of an HTTP error.
func (s *Server) wsHandler(c *echo.Context) error {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	q := c.Request().URL.Query()
	// HandleConnection blocks until the websocket closes.
	s.gateway.HandleConnection(c.Request().Context(), conn, gateway.HandshakeParams{
		Role:           q.Get("role"),
		Token:          q.Get("token"),
		DisplayName:    q.Get("displayName"),
		ConversationID: q.Get("conversationId"),
		Fingerprint:    q.Get("fingerprint"),
		Scope:          q.Get("scope"),
	})
	return nil
}
