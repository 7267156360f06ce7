// Package identity resolves boundary credentials into participants. SYSTEM
// participants are never resolvable here; only the coordinator itself mints
// them.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// ErrUnauthorized is returned when a boundary credential is missing.
var ErrUnauthorized = errors.New("unauthorized")

// customerNamespace seeds deterministic customer ids: the same
// token+fingerprint resolves to the same participant on every reconnect and
// every instance.
var customerNamespace = uuid.MustParse("a3c11f5e-7b8d-4c57-9a34-0f25f6d9c1b2")

// Resolver maps tokens onto participants.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver { return &Resolver{} }

// ResolveCustomer maps a customer token and optional device fingerprint onto
// a stable customer participant.
func (r *Resolver) ResolveCustomer(token, fingerprint, displayName string, attrs map[string]string) (models.Participant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Participant{}, fmt.Errorf("customer token required: %w", ErrUnauthorized)
	}
	seed := token
	if fp := strings.TrimSpace(fingerprint); fp != "" {
		seed += ":" + fp
	}
	return models.Participant{
		ID:          "cust-" + uuid.NewSHA1(customerNamespace, []byte(seed)).String(),
		Type:        models.ParticipantCustomer,
		DisplayName: displayName,
		Attributes:  attrs,
	}, nil
}

// ResolveAgent maps an agent token onto an agent participant. The token is
// the opaque agent id issued by the workforce system and passes through as
// the participant id.
func (r *Resolver) ResolveAgent(token, displayName string, attrs map[string]string) (models.Participant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Participant{}, fmt.Errorf("agent token required: %w", ErrUnauthorized)
	}
	return models.Participant{
		ID:          token,
		Type:        models.ParticipantAgent,
		DisplayName: displayName,
		Attributes:  attrs,
	}, nil
}
