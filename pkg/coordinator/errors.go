package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the conversation id is unknown.
	ErrNotFound = errors.New("conversation not found")

	// ErrAlreadyClosed is returned for mutations on a CLOSED conversation.
	ErrAlreadyClosed = errors.New("conversation already closed")

	// ErrConflictOwner is returned when another agent owns the conversation.
	ErrConflictOwner = errors.New("conversation owned by another agent")

	// ErrNoLongerAvailable is returned when the queue entry vanished under
	// the claimant.
	ErrNoLongerAvailable = errors.New("conversation no longer available")

	// ErrAgentCapacityExceeded is returned when the agent is at its
	// concurrency bound.
	ErrAgentCapacityExceeded = errors.New("agent capacity exceeded")

	// ErrInvalidArgument is returned for rejected input: empty content,
	// oversized content, unknown message type, missing identity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrContention is returned when the conversation lock could not be
	// acquired within its deadline. Callers may retry.
	ErrContention = errors.New("conversation lock contended")

	// ErrBackendUnavailable is returned when the ephemeral store, the audit
	// store, or the event bus failed underneath a transition.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// ValidationError wraps field-specific validation errors. It unwraps to
// ErrInvalidArgument so callers can match on the taxonomy alone.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// backendErr classifies a store failure as BackendUnavailable while keeping
// the underlying cause in the chain.
func backendErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}
