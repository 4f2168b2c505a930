package actor

import (
	"context"

	"github.com/agora-ai/agora/pkg/capability"
	"github.com/agora-ai/agora/pkg/mcp"
	"github.com/agora-ai/agora/pkg/models"
)

// Decision actions.
const (
	DecideReply    = "reply"
	DecideSilent   = "silent"
	DecideDelegate = "delegate"
	DecideLike     = "like"
	DecideOppose   = "oppose"
	DecideAskHuman = "ask_human"
)

// Decision is the outcome of ShouldRespond for one incoming message.
type Decision struct {
	Action        string `json:"action"`
	Reason        string `json:"reason,omitempty"`
	DelegateTo    string `json:"delegate_to,omitempty"`
	NeedsThinking bool   `json:"needs_thinking,omitempty"`
}

// ValidDecisionAction reports whether s is one of the known actions.
func ValidDecisionAction(s string) bool {
	switch s {
	case DecideReply, DecideSilent, DecideDelegate, DecideLike, DecideOppose, DecideAskHuman:
		return true
	}
	return false
}

// Behavior is the hook set an agent type implements to specialise the
// engine. The base loop (mailbox, dedup, memory budget, action dispatch,
// final response) is shared; behaviors decide whether to respond, what
// actions to plan, and when the ReAct loop keeps going.
type Behavior interface {
	// ShouldRespond decides how to handle an incoming message.
	ShouldRespond(ctx context.Context, a *Actor, topic *models.Topic, msg *models.Message) (*Decision, error)
	// PlanActions returns the next batch of steps to append to the plan.
	// Called once per ReAct iteration; an empty result with no pending
	// steps ends the loop.
	PlanActions(ctx context.Context, a *Actor, ictx *IterationContext) ([]models.ActionStep, error)
	// ShouldContinue reports whether another ReAct iteration should run.
	ShouldContinue(a *Actor, ictx *IterationContext) bool
	// RegisterBuiltinTools adds agent-type tools during activation.
	RegisterBuiltinTools(reg *capability.Registry)
}

// BaseBehavior is the default Behavior: always reply, plan nothing (the
// LLM-only path), and keep iterating only while steps are pending or the
// last MCP call failed with a repairable parameter error.
type BaseBehavior struct{}

// ShouldRespond replies to everything.
func (BaseBehavior) ShouldRespond(_ context.Context, _ *Actor, _ *models.Topic, _ *models.Message) (*Decision, error) {
	return &Decision{Action: DecideReply}, nil
}

// PlanActions plans nothing on the first pass. When the previous MCP call
// failed with a parameter error it emits one repair step so the next
// iteration can retry with corrected arguments.
func (BaseBehavior) PlanActions(_ context.Context, a *Actor, ictx *IterationContext) ([]models.ActionStep, error) {
	step := repairStep(a, ictx)
	if step == nil {
		return nil, nil
	}
	return []models.ActionStep{*step}, nil
}

// ShouldContinue keeps the loop alive while steps are pending, or when the
// last result is a repairable MCP parameter error (self-repair path).
func (BaseBehavior) ShouldContinue(a *Actor, ictx *IterationContext) bool {
	if _, ok := ictx.NextPending(); ok {
		return true
	}
	last := ictx.LastResult()
	if last == nil || last.Success || last.ActionType != models.ActionUseMCP {
		return false
	}
	return mcp.IsParameterError(last.Error, a.paramKeywords())
}

// RegisterBuiltinTools registers nothing.
func (BaseBehavior) RegisterBuiltinTools(*capability.Registry) {}

// repairStep builds a retry step for the most recent failed MCP call when
// its error is parameter-shaped, or nil when there is nothing to repair.
func repairStep(a *Actor, ictx *IterationContext) *models.ActionStep {
	last := ictx.LastResult()
	if last == nil || last.Success || last.ActionType != models.ActionUseMCP {
		return nil
	}
	if !mcp.IsParameterError(last.Error, a.paramKeywords()) {
		return nil
	}
	failed := ictx.FindStep(last.StepID)
	if failed == nil {
		return nil
	}
	step := NewActionStep(models.ActionUseMCP, "修复参数后重试")
	step.MCPServerID = failed.MCPServerID
	step.MCPToolName = failed.MCPToolName
	step.Params = failed.Params
	return &step
}
