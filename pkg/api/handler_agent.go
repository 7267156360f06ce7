package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/models"
)

const (
	defaultQueuePageSize = 50
	maxQueuePageSize     = 200
)

// agentQueueHandler handles GET /api/agent/queue.
// Pages through the pending queue in FIFO order. Pages are 1-based.
func (s *Server) agentQueueHandler(c *echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid page: must be a positive integer")
	}
	size, err := parsePositiveInt(c.QueryParam("size"), defaultQueuePageSize)
	if err != nil || size > maxQueuePageSize {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("invalid size: must be a positive integer up to %d", maxQueuePageSize))
	}

	entries, err := s.coord.QueueSnapshot(c.Request().Context(), page*size)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	start := (page - 1) * size
	if start >= len(entries) {
		return c.JSON(http.StatusOK, []models.QueueEntry{})
	}
	return c.JSON(http.StatusOK, entries[start:])
}

// acceptConversationHandler handles POST /api/agent/conversations/:id/accept.
// At most one agent wins a contended accept; the rest see 409.
func (s *Server) acceptConversationHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req AgentActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	agent, err := req.agent()
	if err != nil {
		return mapCoordinatorError(c, err)
	}

	conv, err := s.coord.Accept(c.Request().Context(), agent, conversationID)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// agentConversationsHandler handles GET /api/agent/conversations.
// Lists the agent's conversations, optionally filtered by a comma-separated
// status list.
func (s *Server) agentConversationsHandler(c *echo.Context) error {
	agentID := c.QueryParam("agentId")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agentId is required")
	}

	var statuses []models.ConversationStatus
	if raw := c.QueryParam("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.ConversationStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !status.Valid() {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid status: %s", part))
			}
			statuses = append(statuses, status)
		}
	}

	conversations, err := s.coord.AgentConversations(c.Request().Context(), agentID, statuses)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	if conversations == nil {
		conversations = []*models.Conversation{}
	}
	return c.JSON(http.StatusOK, conversations)
}

// agentMessagesHandler handles GET /api/agent/conversations/:id/messages.
// Only the assigned agent may read through this surface.
func (s *Server) agentMessagesHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	agentID := c.QueryParam("agentId")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agentId is required")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conv, err := s.coord.Get(c.Request().Context(), conversationID)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	if !conv.AssignedTo(agentID) {
		return echo.NewHTTPError(http.StatusForbidden, "conversation is not assigned to this agent")
	}

	messages, err := s.coord.Messages(c.Request().Context(), conversationID, limit)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// agentCloseHandler handles POST /api/agent/conversations/:id/close.
func (s *Server) agentCloseHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req AgentActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	agent, err := req.agent()
	if err != nil {
		return mapCoordinatorError(c, err)
	}

	conv, err := s.coord.Close(c.Request().Context(), conversationID, &agent)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// parsePositiveInt parses a positive integer query parameter, applying def
// when the parameter is absent.
func parsePositiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("not a positive integer: %q", raw)
	}
	return v, nil
}
