package bus

import (
	"time"

	"github.com/agora-ai/agora/pkg/models"
)

// BasePayload carries the fields every published event must have.
type BasePayload struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// NewBasePayload stamps a payload header for the given event type.
func NewBasePayload(eventType string) BasePayload {
	return BasePayload{Type: eventType, Timestamp: time.Now().Format(time.RFC3339Nano)}
}

// NewMessagePayload is the payload for new_message events.
// Published after the message has been persisted.
type NewMessagePayload struct {
	BasePayload
	Data *models.Message `json:"data"`
}

// RolledBackPayload is the payload for messages_rolled_back events.
// Every actor truncates its local history after the target message.
type RolledBackPayload struct {
	BasePayload
	Data struct {
		ToMessageID string `json:"to_message_id"`
	} `json:"data"`
}

// ParticipantsUpdatedPayload is the payload for topic_participants_updated
// events. The roster replaces the actor's participant list wholesale.
type ParticipantsUpdatedPayload struct {
	BasePayload
	Data struct {
		Participants []models.Participant `json:"participants"`
	} `json:"data"`
}

// RosterDeltaPayload is the payload for agent_joined / participant_left.
type RosterDeltaPayload struct {
	BasePayload
	ParticipantID string `json:"participant_id"`
}

// AgentThinkingPayload is the payload for agent_thinking events, published
// when an actor starts processing a message.
type AgentThinkingPayload struct {
	BasePayload
	AgentID         string `json:"agent_id"`
	AgentName       string `json:"agent_name"`
	AgentAvatar     string `json:"agent_avatar,omitempty"`
	MessageID       string `json:"message_id"`
	ProcessSteps    []any  `json:"processSteps"`
	ProcessMessages []any  `json:"processMessages"`
	InReplyTo       string `json:"in_reply_to"`
}

// StreamChunkPayload is the payload for agent_stream_chunk events. Chunk is
// never empty; step-progress updates travel as agent_thinking instead.
// High frequency, ephemeral: clients observing Accumulated see a strictly
// growing prefix of the final content.
type StreamChunkPayload struct {
	BasePayload
	AgentID     string `json:"agent_id"`
	MessageID   string `json:"message_id"`
	Chunk       string `json:"chunk"`
	Accumulated string `json:"accumulated"`
}

// StreamDonePayload is the payload for agent_stream_done events, the
// terminal event of one reply. Chunks arriving after it for the same
// message id must be ignored by consumers.
type StreamDonePayload struct {
	BasePayload
	AgentID         string             `json:"agent_id"`
	MessageID       string             `json:"message_id"`
	Content         string             `json:"content"`
	ProcessSteps    []any              `json:"processSteps"`
	ProcessMessages []any              `json:"processMessages,omitempty"`
	ExecutionLogs   []any              `json:"execution_logs,omitempty"`
	Media           []models.MediaItem `json:"media,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// AgentSilentPayload is the payload for agent_silent events: the actor
// decided not to reply. No message is persisted.
type AgentSilentPayload struct {
	BasePayload
	AgentID   string `json:"agent_id"`
	InReplyTo string `json:"in_reply_to"`
	Reason    string `json:"reason"`
}

// ReactionPayload is the payload for reaction events (like / oppose).
type ReactionPayload struct {
	BasePayload
	Reaction       string `json:"reaction"`
	MessageID      string `json:"message_id"`
	FromAgentID    string `json:"from_agent_id"`
	FromAgentName  string `json:"from_agent_name,omitempty"`
	TargetSenderID string `json:"target_sender_id"`
}

// ExecutionLogPayload is the payload for execution_log events: the
// granular step log surfaced to clients while an actor works.
type ExecutionLogPayload struct {
	BasePayload
	ID        string `json:"id"`
	LogType   string `json:"log_type"` // info, step, tool, llm, success, error, thinking
	Message   string `json:"message"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
	Detail    any    `json:"detail,omitempty"`
	Duration  int64  `json:"duration,omitempty"` // milliseconds
}

// Execution log entry types (ExecutionLogPayload.LogType).
const (
	LogInfo     = "info"
	LogStep     = "step"
	LogTool     = "tool"
	LogLLM      = "llm"
	LogSuccess  = "success"
	LogError    = "error"
	LogThinking = "thinking"
)

// ProcessEventPayload is the payload for topic_process_event phase
// transitions.
type ProcessEventPayload struct {
	BasePayload
	Phase   string `json:"phase"` // load_llm_tool, prepare_context, msg_type_classify, msg_pre_deal, msg_deal, post_msg_deal
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
}

// Processing phases (ProcessEventPayload.Phase).
const (
	PhaseLoadLLMTool     = "load_llm_tool"
	PhasePrepareContext  = "prepare_context"
	PhaseMsgTypeClassify = "msg_type_classify"
	PhaseMsgPreDeal      = "msg_pre_deal"
	PhaseMsgDeal         = "msg_deal"
	PhasePostMsgDeal     = "post_msg_deal"
)

// ChainProgressPayload is the payload for action_chain_progress events,
// published after each executed step of a chain.
type ChainProgressPayload struct {
	BasePayload
	ChainID      string             `json:"chain_id"`
	CurrentIndex int                `json:"current_index"`
	TotalSteps   int                `json:"total_steps"`
	Status       models.ChainStatus `json:"status"`
	CurrentStep  *models.ActionStep `json:"current_step,omitempty"`
}

// TopicUpdatedPayload is the payload for topic_updated events.
type TopicUpdatedPayload struct {
	BasePayload
	Data any `json:"data,omitempty"`
}
