package api

import "github.com/parleyhq/parley/pkg/models"

// QueueStatusResponse is returned by POST /api/conversations/:id/queue.
type QueueStatusResponse struct {
	ConversationID string                    `json:"conversationId"`
	Status         models.ConversationStatus `json:"status"`
	QueuePosition  int                       `json:"queuePosition"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one dependency's health within HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
