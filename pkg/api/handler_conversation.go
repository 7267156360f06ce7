package api

import (
	"fmt"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// startConversationHandler handles POST /api/conversations.
// Creates an OPEN conversation for the customer identified by proxy headers.
func (s *Server) startConversationHandler(c *echo.Context) error {
	customer, err := extractCustomer(c)
	if err != nil {
		return mapCoordinatorError(c, err)
	}

	var req StartConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DisplayName != "" {
		customer.DisplayName = req.DisplayName
	}

	conv, err := s.coord.Start(c.Request().Context(), customer, req.Attributes)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// queueConversationHandler handles POST /api/conversations/:id/queue.
// Moves an OPEN conversation into the pending queue and reports its position.
func (s *Server) queueConversationHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req QueueConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	status, err := s.coord.QueueForAgent(c.Request().Context(), conversationID, req.Channel)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	return c.JSON(http.StatusOK, &QueueStatusResponse{
		ConversationID: status.Conversation.ID,
		Status:         status.Conversation.Status,
		QueuePosition:  status.Position,
	})
}

// listMessagesHandler handles GET /api/conversations/:id/messages.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	messages, err := s.coord.Messages(c.Request().Context(), conversationID, limit)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// postMessageHandler handles POST /api/conversations/:id/messages.
// Server-side integrations post on behalf of a sender named in the body.
func (s *Server) postMessageHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sender, err := req.sender()
	if err != nil {
		return mapCoordinatorError(c, err)
	}

	msg, err := s.coord.SendMessage(c.Request().Context(), conversationID, sender, req.Content, req.Type)
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// closeConversationHandler handles DELETE /api/conversations/:id.
// Closes on behalf of the customer named in the headers; anonymous closes
// still succeed with a generic closure notice.
func (s *Server) closeConversationHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	conv, err := s.coord.Close(c.Request().Context(), conversationID, optionalCustomer(c))
	if err != nil {
		return mapCoordinatorError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// parseLimit parses an optional ?limit=N query parameter. Zero means the
// coordinator's configured tail limit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q: must be a non-negative integer", raw)
	}
	return limit, nil
}
