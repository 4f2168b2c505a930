package api

// SendMessageRequest is the body for POST /api/v1/topics/:id/messages.
type SendMessageRequest struct {
	Content  string         `json:"content"`
	SenderID string         `json:"sender_id,omitempty"`
	Mentions []string       `json:"mentions,omitempty"`
	Ext      map[string]any `json:"ext,omitempty"`
}

// RollbackRequest is the body for POST /api/v1/topics/:id/rollback.
type RollbackRequest struct {
	ToMessageID string `json:"to_message_id"`
}

// InterruptRequest is the body for POST /api/v1/topics/:id/interrupt.
type InterruptRequest struct {
	AgentID string `json:"agent_id"`
}

// ActivateAgentRequest is the optional body for agent activation.
type ActivateAgentRequest struct {
	HistoryLimit int `json:"history_limit,omitempty"`
}
