package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/identity"
)

// mapCoordinatorError maps coordinator errors to HTTP error responses.
// Contention gets a Retry-After so well-behaved clients back off instead of
// hammering a hot conversation lock.
func mapCoordinatorError(c *echo.Context, err error) *echo.HTTPError {
	var validErr *coordinator.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validErr.Error())
	}
	if errors.Is(err, coordinator.ErrInvalidArgument) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if errors.Is(err, coordinator.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if errors.Is(err, coordinator.ErrAlreadyClosed) {
		return echo.NewHTTPError(http.StatusConflict, "conversation is already closed")
	}
	if errors.Is(err, coordinator.ErrConflictOwner) {
		return echo.NewHTTPError(http.StatusConflict, "conversation is owned by another agent")
	}
	if errors.Is(err, coordinator.ErrNoLongerAvailable) {
		return echo.NewHTTPError(http.StatusConflict, "conversation is no longer available")
	}
	if errors.Is(err, coordinator.ErrAgentCapacityExceeded) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "agent is at maximum concurrent conversations")
	}
	if errors.Is(err, identity.ErrUnauthorized) {
		return echo.NewHTTPError(http.StatusUnauthorized, "participant identity required")
	}
	if errors.Is(err, coordinator.ErrContention) {
		c.Response().Header().Set("Retry-After", "1")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "conversation is busy, retry shortly")
	}
	if errors.Is(err, coordinator.ErrBackendUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "coordination backend unavailable")
	}

	// Unexpected error
	slog.Error("Unexpected coordinator error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
