package models

// ActionType identifies the kind of work a planned step performs.
// The set is closed: the step dispatcher switches over these values.
type ActionType string

// Action type values.
const (
	ActionUseMCP       ActionType = "AG_USE_MCP"       // call an MCP server tool
	ActionSelfGen      ActionType = "AG_SELF_GEN"      // generate text (final-response phase)
	ActionCallAgent    ActionType = "AG_CALL_AG"       // hand off to another agent via @mention
	ActionCallHuman    ActionType = "AG_CALL_HUMAN"    // ask the human for confirmation
	ActionAccept       ActionType = "AG_ACCEPT"        // accept a delegated task
	ActionRefuse       ActionType = "AG_REFUSE"        // refuse and interrupt the chain
	ActionSelfDecision ActionType = "AG_SELF_DECISION" // record an internal decision
)

// StepStatus is the lifecycle state of an ActionStep.
type StepStatus string

// Step status values.
const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// ActionStep is one planned unit of work. Lifecycle: created by the
// planner, do_before callback publishes a step-started event, the step is
// executed, do_after publishes step-completed.
type ActionStep struct {
	StepID        string         `json:"step_id"`
	ActionType    ActionType     `json:"action_type"`
	Description   string         `json:"description,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	MCPServerID   string         `json:"mcp_server_id,omitempty"`
	MCPToolName   string         `json:"mcp_tool_name,omitempty"`
	TargetAgentID string         `json:"target_agent_id,omitempty"`
	TargetTopicID string         `json:"target_topic_id,omitempty"`
	Status        StepStatus     `json:"status"`
	Result        any            `json:"result,omitempty"`
	// Interrupt stops chain execution after this step (set by AG_REFUSE).
	Interrupt bool `json:"interrupt,omitempty"`
}

// ActionResult records the outcome of one executed step.
type ActionResult struct {
	StepID     string     `json:"step_id"`
	ActionType ActionType `json:"action_type"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	Data       any        `json:"data,omitempty"`
}
