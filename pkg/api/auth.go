package api

import (
	"fmt"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/identity"
	"github.com/parleyhq/parley/pkg/models"
)

// Participant identity headers set by the edge proxy. The coordination tier
// trusts them; authenticating the end user is the proxy's job.
const (
	headerParticipantID   = "X-Participant-Id"
	headerParticipantName = "X-Participant-Name"
)

// extractCustomer builds the customer participant from proxy headers.
// A missing id is an authorization failure, not a validation one.
func extractCustomer(c *echo.Context) (models.Participant, error) {
	id := c.Request().Header.Get(headerParticipantID)
	if id == "" {
		return models.Participant{}, fmt.Errorf("missing %s header: %w", headerParticipantID, identity.ErrUnauthorized)
	}
	return models.Participant{
		ID:          id,
		Type:        models.ParticipantCustomer,
		DisplayName: c.Request().Header.Get(headerParticipantName),
	}, nil
}

// optionalCustomer is extractCustomer for endpoints where the caller may be
// anonymous. Returns nil when no id header is present.
func optionalCustomer(c *echo.Context) *models.Participant {
	p, err := extractCustomer(c)
	if err != nil {
		return nil
	}
	return &p
}
