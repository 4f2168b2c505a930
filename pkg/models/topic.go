package models

import "time"

// SessionType classifies a topic.
type SessionType string

// Session type values.
const (
	// SessionPrivateChat is a 1:1 chat between a user and one agent.
	SessionPrivateChat SessionType = "private_chat"
	// SessionTopicGeneral is a group chat with multiple agents. In group
	// chats every agent uses its own default model so personas stay
	// consistent: user model overrides are ignored.
	SessionTopicGeneral SessionType = "topic_general"
	// SessionAgent is a private session bound to a single agent where user
	// model overrides apply.
	SessionAgent SessionType = "agent"
)

// Topic is a shared conversation channel.
type Topic struct {
	TopicID     string         `json:"topic_id"`
	Name        string         `json:"name,omitempty"`
	SessionType SessionType    `json:"session_type"`
	Ext         map[string]any `json:"ext,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ParticipantType identifies the kind of a topic participant.
type ParticipantType string

// Participant type values.
const (
	ParticipantUser  ParticipantType = "user"
	ParticipantAgent ParticipantType = "agent"
)

// Participant is one member of a topic roster.
type Participant struct {
	ParticipantID   string          `json:"participant_id"`
	ParticipantType ParticipantType `json:"participant_type"`
	Name            string          `json:"name,omitempty"`
	Avatar          string          `json:"avatar,omitempty"`
	SystemPrompt    string          `json:"system_prompt,omitempty"`
	LLMConfigID     string          `json:"llm_config_id,omitempty"`
}

// AgentConfig is the persisted configuration for an agent: identity,
// persona, LLM binding, and the ext map carrying MCP server definitions and
// persona options (ext["mcpServers"], ext["persona"], ext["imageGen"]).
type AgentConfig struct {
	AgentID      string         `json:"agent_id"`
	Name         string         `json:"name"`
	Avatar       string         `json:"avatar,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	LLMConfigID  string         `json:"llm_config_id,omitempty"`
	Ext          map[string]any `json:"ext,omitempty"`
}
