package actor

import (
	"time"

	"github.com/google/uuid"

	"github.com/agora-ai/agora/pkg/models"
)

// DefaultMaxIterations bounds the ReAct loop per message.
const DefaultMaxIterations = 10

// Process step types surfaced in the agent_mind trace.
const (
	StepThinking     = "thinking"
	StepMCPSelection = "mcp_selection"
	StepIteration    = "iteration"
	StepDecision     = "decision"
	StepPlanning     = "planning"
	StepReflection   = "reflection"
	StepChainResumed = "action_chain_resumed"
)

// Process step statuses.
const (
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusError     = "error"
)

// MCPStepDetail describes the tool call behind an mcp_selection step.
type MCPStepDetail struct {
	Server     string         `json:"server"`
	ServerName string         `json:"serverName,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
}

// IterationDetail describes a ReAct round on an iteration step.
type IterationDetail struct {
	Round     int  `json:"round"`
	MaxRounds int  `json:"maxRounds"`
	IsFinal   bool `json:"isFinal"`
}

// DecisionDetail records a respond/silent/delegate decision on a step.
type DecisionDetail struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// ProcessStep is one node of the UI processing trace.
type ProcessStep struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Timestamp string           `json:"timestamp"`
	Status    string           `json:"status"`
	Title     string           `json:"title"`
	Content   string           `json:"content,omitempty"`
	Duration  int64            `json:"duration,omitempty"` // milliseconds
	MCP       *MCPStepDetail   `json:"mcp,omitempty"`
	Iteration *IterationDetail `json:"iteration,omitempty"`
	Decision  *DecisionDetail  `json:"decision,omitempty"`
	Error     string           `json:"error,omitempty"`

	started time.Time
}

// LogEntry is one execution_log record, kept in order for the reply ext.
type LogEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"` // bus.Log* values
	Message   string `json:"message"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
	Detail    any    `json:"detail,omitempty"`
	Duration  int64  `json:"duration,omitempty"`
}

// MCPResult is one tool-call record for the agent_ext_content envelope.
type MCPResult struct {
	ServerID       string             `json:"serverId"`
	ServerName     string             `json:"serverName,omitempty"`
	ToolName       string             `json:"toolName,omitempty"`
	Arguments      map[string]any     `json:"arguments,omitempty"`
	Result         string             `json:"result,omitempty"`
	Status         string             `json:"status"`
	Duration       int64              `json:"duration,omitempty"`
	ErrorMessage   string             `json:"errorMessage,omitempty"`
	ExtractedMedia []models.MediaItem `json:"extractedMedia,omitempty"`
}

// IterationContext is the per-message processing state: the plan and its
// results, the UI trace, tool output accumulated across ReAct rounds, and
// the chain hand-off bookkeeping. It lives on the actor's worker goroutine
// only.
type IterationContext struct {
	Original       *models.Message
	ReplyMessageID string

	Iteration     int
	MaxIterations int

	PlannedActions  []models.ActionStep
	ExecutedResults []models.ActionResult

	ProcessSteps  []*ProcessStep
	ExecutionLogs []LogEntry

	// ToolResults accumulates tool output (and repair context) across
	// iterations, injected into the final prompt.
	ToolResults string
	MCPMedia    []models.MediaItem
	MCPResults  []MCPResult

	// Plan continuation fields carried over from the message ext.
	PlanIndex       int
	PlanAccumulated string

	UserSelectedConfigID string
	UserSelectedModel    string

	ActionChainID  string
	ChainStepIndex int
	InheritedChain bool
	Chain          *models.ActionChain

	WaitingForHuman bool
	Interrupted     bool
	DecisionNotes   []string
}

// NewIterationContext builds the context for one message, fixing the reply
// message id up-front so every streamed chunk and the final persisted row
// share it.
func NewIterationContext(msg *models.Message) *IterationContext {
	ictx := &IterationContext{
		Original:       msg,
		ReplyMessageID: uuid.New().String(),
		MaxIterations:  DefaultMaxIterations,
	}
	if msg.Ext != nil {
		ictx.UserSelectedConfigID = msg.ExtString("llm_config_id")
		ictx.UserSelectedModel = msg.ExtString("model")
		ictx.ActionChainID = msg.ExtString("action_chain_id")
		if i, ok := msg.ExtInt("chain_step_index"); ok {
			ictx.ChainStepIndex = i
		}
		if i, ok := msg.ExtInt("plan_index"); ok {
			ictx.PlanIndex = i
		}
		ictx.PlanAccumulated = msg.ExtString("plan_accumulated_content")
	}
	return ictx
}

// NextPending returns the first planned step that has not run yet.
func (c *IterationContext) NextPending() (*models.ActionStep, bool) {
	for i := range c.PlannedActions {
		if c.PlannedActions[i].Status == models.StepPending {
			return &c.PlannedActions[i], true
		}
	}
	return nil, false
}

// FindStep returns the planned step with the given id.
func (c *IterationContext) FindStep(stepID string) *models.ActionStep {
	for i := range c.PlannedActions {
		if c.PlannedActions[i].StepID == stepID {
			return &c.PlannedActions[i]
		}
	}
	return nil
}

// LastResult returns the most recent executed result, or nil.
func (c *IterationContext) LastResult() *models.ActionResult {
	if len(c.ExecutedResults) == 0 {
		return nil
	}
	return &c.ExecutedResults[len(c.ExecutedResults)-1]
}

// HasMCPFailure reports whether any executed MCP step failed.
func (c *IterationContext) HasMCPFailure() bool {
	for _, r := range c.ExecutedResults {
		if r.ActionType == models.ActionUseMCP && !r.Success {
			return true
		}
	}
	return false
}

// AddStep appends a running process step and returns it for completion.
func (c *IterationContext) AddStep(stepType, title, content string) *ProcessStep {
	step := &ProcessStep{
		ID:        uuid.New().String(),
		Type:      stepType,
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Status:    StepStatusRunning,
		Title:     title,
		Content:   content,
		started:   time.Now(),
	}
	c.ProcessSteps = append(c.ProcessSteps, step)
	return step
}

// CompleteStep finalises a step's status and duration.
func (c *IterationContext) CompleteStep(step *ProcessStep, status, errMsg string) {
	step.Status = status
	step.Error = errMsg
	step.Duration = time.Since(step.started).Milliseconds()
}

// AddLog appends one execution log entry and returns it.
func (c *IterationContext) AddLog(agentID, agentName, logType, message string, detail any) LogEntry {
	entry := LogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Type:      logType,
		Message:   message,
		AgentID:   agentID,
		AgentName: agentName,
		Detail:    detail,
	}
	c.ExecutionLogs = append(c.ExecutionLogs, entry)
	return entry
}

// StepsAsAny converts the trace for event payloads.
func (c *IterationContext) StepsAsAny() []any {
	out := make([]any, len(c.ProcessSteps))
	for i, s := range c.ProcessSteps {
		out[i] = s
	}
	return out
}

// LogsAsAny converts the logs for event payloads.
func (c *IterationContext) LogsAsAny() []any {
	out := make([]any, len(c.ExecutionLogs))
	for i, l := range c.ExecutionLogs {
		out[i] = l
	}
	return out
}

// NewActionStep builds a pending step with a fresh id.
func NewActionStep(actionType models.ActionType, description string) models.ActionStep {
	return models.ActionStep{
		StepID:      uuid.New().String(),
		ActionType:  actionType,
		Description: description,
		Status:      models.StepPending,
	}
}
