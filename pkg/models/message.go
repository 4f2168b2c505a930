// Package models defines the shared data types exchanged between the topic
// service, the actor runtime, and the persistence layer.
package models

import "time"

// SenderType identifies who authored a message.
type SenderType string

// Sender type values.
const (
	SenderUser   SenderType = "user"
	SenderAgent  SenderType = "agent"
	SenderSystem SenderType = "system"
)

// Role is the LLM conversation role carried by a message.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single message on a topic. Messages are append-only except
// for rollback, which deletes everything created after a target message.
//
// Ext is the extension envelope. Known keys include "media", "tool_call",
// "action_plan", "plan_index", "plan_accumulated_content",
// "action_chain_id", "chain_step_index", "auto_trigger", "retry",
// "chain_append", "mcp_error", "quotedMessage", "needs_human" plus the
// reply trace categories built by the actor (agent_log, agent_mind,
// agent_ext_content, processMessages, log, media). Consumers must treat
// unknown keys as forward-compatible.
type Message struct {
	MessageID  string         `json:"message_id"`
	TopicID    string         `json:"topic_id"`
	SenderID   string         `json:"sender_id"`
	SenderType SenderType     `json:"sender_type"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	CreatedAt  time.Time      `json:"created_at"`
	Mentions   []string       `json:"mentions,omitempty"`
	Ext        map[string]any `json:"ext,omitempty"`
}

// IsMentioned reports whether agentID appears in the message's mention set.
func (m *Message) IsMentioned(agentID string) bool {
	for _, id := range m.Mentions {
		if id == agentID {
			return true
		}
	}
	return false
}

// ExtString returns a string-valued ext field, or "" when absent.
func (m *Message) ExtString(key string) string {
	if m.Ext == nil {
		return ""
	}
	s, _ := m.Ext[key].(string)
	return s
}

// ExtBool returns a bool-valued ext field, or false when absent.
func (m *Message) ExtBool(key string) bool {
	if m.Ext == nil {
		return false
	}
	b, _ := m.Ext[key].(bool)
	return b
}

// ExtInt returns an int-valued ext field. JSON round-trips deliver numbers
// as float64, so both representations are accepted. Returns (0, false) when
// the field is absent or not numeric.
func (m *Message) ExtInt(key string) (int, bool) {
	if m.Ext == nil {
		return 0, false
	}
	switch v := m.Ext[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// SendMessageRequest is the input for TopicService.SendMessage.
type SendMessageRequest struct {
	TopicID    string
	SenderID   string
	SenderType SenderType
	Role       Role
	Content    string
	Mentions   []string
	Ext        map[string]any
}
