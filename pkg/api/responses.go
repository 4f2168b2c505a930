package api

import "github.com/agora-ai/agora/pkg/models"

// MessagesResponse is the response for GET /api/v1/topics/:id/messages.
type MessagesResponse struct {
	Messages []*models.Message `json:"messages"`
	HasMore  bool              `json:"has_more"`
	NewestID string            `json:"newest_id,omitempty"`
}

// RollbackResponse reports how many messages a rollback deleted.
type RollbackResponse struct {
	TopicID     string `json:"topic_id"`
	ToMessageID string `json:"to_message_id"`
	Deleted     int64  `json:"deleted"`
}

// StatusResponse is a generic acknowledgement body.
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthCheck is one component's health probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
