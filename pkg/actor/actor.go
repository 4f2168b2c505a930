// Package actor implements the per-agent runtime: a FIFO mailbox drained
// by a single worker goroutine, a decide/plan/execute ReAct loop with
// self-repair on MCP parameter errors, memory budgeting with automatic
// summarisation, streamed reply generation, and action-chain hand-off
// between agents.
//
// One actor instance binds one agent to one topic. All mutable state is
// owned by the worker goroutine; cross-agent coordination happens only
// through Redis events and the Manager's dispatcher, never through direct
// references between actors.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/capability"
	"github.com/agora-ai/agora/pkg/chain"
	"github.com/agora-ai/agora/pkg/llm"
	"github.com/agora-ai/agora/pkg/mcp"
	"github.com/agora-ai/agora/pkg/models"
)

// mailboxSize bounds the per-actor event queue. A full mailbox drops the
// event with a warning; persisted messages are recoverable from the store.
const mailboxSize = 256

// memoryThreshold is the share of the model context window that triggers
// summarisation before a message is processed.
const memoryThreshold = 0.8

// Recent-history budgets for the final-response prompt.
const (
	promptMaxMessages   = 10
	promptMaxTotalChars = 8000
	promptMaxMsgChars   = 2400
)

// TopicService is the slice of the topic layer the actor drives: message
// persistence, event publishing, roster reads, and interrupt flags.
// Satisfied by *topic.Service.
type TopicService interface {
	SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
	GetTopic(ctx context.Context, topicID string) (*models.Topic, error)
	GetParticipants(ctx context.Context, topicID string) ([]models.Participant, error)
	GetAgent(ctx context.Context, agentID string) (*models.AgentConfig, error)
	GetMessages(ctx context.Context, topicID string, limit int, beforeID string) ([]*models.Message, bool, string, error)
	ConsumeInterrupt(ctx context.Context, topicID, agentID string) (bool, error)
	Publish(ctx context.Context, topicID string, payload any) error
	PublishExecutionLog(ctx context.Context, topicID, agentID, agentName, logType, message string, detail any)
	PublishProcessEvent(ctx context.Context, topicID, agentID, phase, status string, data any)
	PublishChainProgress(ctx context.Context, topicID string, chain *models.ActionChain)
}

// LLMConfigSource resolves provider configurations. Satisfied by
// *store.LLMConfigStore.
type LLMConfigSource interface {
	FindByID(ctx context.Context, configID string) (*models.LLMConfig, error)
	FindByModel(ctx context.Context, model string) (*models.LLMConfig, error)
}

// ChainStore persists action chains for cross-agent hand-off. Satisfied by
// *chain.Store.
type ChainStore interface {
	Save(ctx context.Context, c *models.ActionChain) error
	Load(ctx context.Context, chainID string) (*models.ActionChain, error)
}

// MCPRunner executes tool calls against the actor's MCP servers.
// Satisfied by *mcp.Executor.
type MCPRunner interface {
	ExecuteWithLLM(ctx context.Context, provider llm.Provider, serverID, task, forcedTool string) (*mcp.Outcome, error)
}

// RunnerFactory builds an MCPRunner over a set of registered server ids
// during activation.
type RunnerFactory interface {
	CreateRunner(ctx context.Context, serverIDs []string) (MCPRunner, error)
}

// ProviderFactory builds an LLM provider from a resolved config.
type ProviderFactory func(cfg *models.LLMConfig) (llm.Provider, error)

// Deps carries the external collaborators an actor needs.
type Deps struct {
	Topics     TopicService
	LLMConfigs LLMConfigSource
	Chains     ChainStore
	Runners    RunnerFactory // nil disables MCP execution

	// Servers receives the transport config of servers declared on agent
	// ext, so the runner factory can connect to them. Optional.
	Servers *mcp.ServerRegistry

	// NewProvider defaults to llm.New.
	NewProvider ProviderFactory

	// ParamErrorKeywords overrides the parameter-error classifier keyword
	// list; nil uses mcp.DefaultParameterErrorKeywords.
	ParamErrorKeywords []string
}

// event is one mailbox item: either a bus delivery or a direct trigger.
type event struct {
	env *bus.Envelope
	msg *models.Message
}

// Actor is the runtime instance of one agent bound to one topic.
type Actor struct {
	agentID  string
	deps     Deps
	behavior Behavior

	mu            sync.Mutex
	running       bool
	topicID       string
	cfg           *models.AgentConfig
	topic         *models.Topic
	registry      *capability.Registry
	runner        MCPRunner
	state         *State
	defaultConfig *models.LLMConfig

	mailbox chan event
	stopCh  chan struct{}
	wg      sync.WaitGroup

	processed atomic.Int64
	errCount  atomic.Int64

	logger *slog.Logger
}

// NewActor creates an inactive actor. behavior nil uses BaseBehavior.
func NewActor(agentID string, deps Deps, behavior Behavior) *Actor {
	if behavior == nil {
		behavior = BaseBehavior{}
	}
	if deps.NewProvider == nil {
		deps.NewProvider = llm.New
	}
	return &Actor{
		agentID:  agentID,
		deps:     deps,
		behavior: behavior,
		logger:   slog.Default().With("agent", agentID),
	}
}

// AgentID returns the bound agent id.
func (a *Actor) AgentID() string { return a.agentID }

// Topic returns the bound topic id ("" before activation).
func (a *Actor) Topic() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.topicID
}

// Config returns the loaded agent configuration.
func (a *Actor) Config() *models.AgentConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// State returns the per-topic state.
func (a *Actor) State() *State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Registry returns the capability registry built at activation.
func (a *Actor) Registry() *capability.Registry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registry
}

// Stats returns processed and error counters.
func (a *Actor) Stats() (processed, errs int64) {
	return a.processed.Load(), a.errCount.Load()
}

// DefaultProvider builds a provider from the agent's default LLM config.
func (a *Actor) DefaultProvider() (llm.Provider, error) {
	a.mu.Lock()
	cfg := a.defaultConfig
	a.mu.Unlock()
	if cfg == nil {
		return nil, fmt.Errorf("agent %s has no default llm config", a.agentID)
	}
	return a.deps.NewProvider(cfg)
}

func (a *Actor) paramKeywords() []string { return a.deps.ParamErrorKeywords }

// Activate binds the actor to a topic and starts its worker. When already
// running on the same topic it only refreshes history and enqueues the
// trigger. historyLimit of zero uses the default.
func (a *Actor) Activate(ctx context.Context, topicID string, trigger *models.Message, historyLimit int) error {
	a.mu.Lock()
	if a.running && a.topicID == topicID {
		st := a.state
		a.mu.Unlock()
		if err := st.LoadHistory(ctx, a.deps.Topics, historyLimit); err != nil {
			a.logger.Warn("History refresh failed", "topic", topicID, "error", err)
		}
		if trigger != nil {
			a.enqueue(event{msg: trigger})
		}
		return nil
	}
	a.mu.Unlock()

	cfg, err := a.deps.Topics.GetAgent(ctx, a.agentID)
	if err != nil {
		return fmt.Errorf("activate agent %s: %w", a.agentID, err)
	}
	top, err := a.deps.Topics.GetTopic(ctx, topicID)
	if err != nil {
		return fmt.Errorf("activate agent %s on %s: %w", a.agentID, topicID, err)
	}

	reg := capability.NewRegistry()
	if err := reg.LoadFromAgentConfig(cfg); err != nil {
		a.logger.Warn("Failed to load MCP servers from agent config", "error", err)
	}
	topicMCPs := extMCPEntries(top.Ext)
	if err := reg.LoadFromTopicMCPs(topicMCPs); err != nil {
		a.logger.Warn("Failed to load MCP servers from topic ext", "error", err)
	}
	loadSkillsFromExt(reg, cfg)
	a.behavior.RegisterBuiltinTools(reg)
	if a.deps.Servers != nil {
		syncMCPServers(a.deps.Servers, extMCPEntries(cfg.Ext), a.logger)
		syncMCPServers(a.deps.Servers, topicMCPs, a.logger)
	}

	var runner MCPRunner
	if a.deps.Runners != nil {
		ids := reg.MCPServerIDs()
		runner, err = a.deps.Runners.CreateRunner(ctx, ids)
		if err != nil {
			// Tool execution degrades; the agent can still converse.
			a.logger.Warn("MCP runner creation failed", "servers", ids, "error", err)
			runner = nil
		}
	}
	if runner != nil {
		a.discoverTools(ctx, runner, reg)
	}

	var defaultCfg *models.LLMConfig
	if cfg.LLMConfigID != "" {
		defaultCfg, err = a.deps.LLMConfigs.FindByID(ctx, cfg.LLMConfigID)
		if err != nil {
			a.logger.Warn("Default LLM config lookup failed", "config", cfg.LLMConfigID, "error", err)
		}
	}

	st := NewState(a.agentID, topicID)
	if err := st.LoadHistory(ctx, a.deps.Topics, historyLimit); err != nil {
		return fmt.Errorf("load history for %s: %w", topicID, err)
	}
	if ps, err := a.deps.Topics.GetParticipants(ctx, topicID); err == nil {
		st.SetParticipants(ps)
	}

	a.mu.Lock()
	wasRunning := a.running
	a.topicID = topicID
	a.cfg = cfg
	a.topic = top
	a.registry = reg
	a.runner = runner
	a.state = st
	a.defaultConfig = defaultCfg
	if !wasRunning {
		a.mailbox = make(chan event, mailboxSize)
		a.stopCh = make(chan struct{})
		a.running = true
		a.wg.Add(1)
		go a.run()
	}
	a.mu.Unlock()

	a.logger.Info("Actor activated", "topic", topicID, "mcp_servers", len(reg.MCPServerIDs()))
	if trigger != nil {
		a.enqueue(event{msg: trigger})
	}
	return nil
}

// Stop shuts the worker down and waits for it to drain.
func (a *Actor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.mu.Unlock()
	a.wg.Wait()
}

// OnEvent enqueues a bus delivery into the mailbox. Called from the
// manager's dispatcher goroutine; never blocks.
func (a *Actor) OnEvent(env *bus.Envelope) {
	a.enqueue(event{env: env})
}

func (a *Actor) enqueue(ev event) {
	select {
	case a.mailbox <- ev:
	default:
		a.logger.Warn("Mailbox full, dropping event")
	}
}

// run is the single worker loop draining the mailbox in FIFO order.
func (a *Actor) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		case ev := <-a.mailbox:
			a.handleEvent(ev)
		}
	}
}

// handleEvent dispatches one mailbox item. No failure may kill the worker:
// errors are logged and counted, panics recovered.
func (a *Actor) handleEvent(ev event) {
	defer func() {
		if r := recover(); r != nil {
			a.errCount.Add(1)
			a.logger.Error("Panic while handling event", "topic", a.Topic(), "panic", r)
		}
	}()
	ctx := context.Background()

	if ev.msg != nil {
		a.handleNewMessage(ctx, ev.msg)
		return
	}
	env := ev.env
	if env == nil {
		return
	}

	switch env.Type {
	case bus.EventNewMessage:
		var p bus.NewMessagePayload
		if err := env.Decode(&p); err != nil || p.Data == nil {
			a.logger.Warn("Malformed new_message payload", "error", err)
			return
		}
		a.handleNewMessage(ctx, p.Data)

	case bus.EventMessagesRolledBack:
		var p bus.RolledBackPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		a.State().ClearAfter(p.Data.ToMessageID)
		a.logger.Info("History rolled back", "to", p.Data.ToMessageID)

	case bus.EventParticipantsUpdated:
		var p bus.ParticipantsUpdatedPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		a.State().SetParticipants(p.Data.Participants)

	case bus.EventAgentJoined, bus.EventParticipantLeft:
		if ps, err := a.deps.Topics.GetParticipants(ctx, a.Topic()); err == nil {
			a.State().SetParticipants(ps)
		}
	}
	// Remaining event types are progress traffic for clients, not actors.
}

// handleNewMessage runs the fixed pipeline for one incoming message:
// dedup, append, self-filter, memory budget, decision, dispatch.
func (a *Actor) handleNewMessage(ctx context.Context, msg *models.Message) {
	st := a.State()
	if st == nil || !st.MarkProcessed(msg.MessageID) {
		return
	}

	media := NormalizeMedia(extValue(msg, "media"))
	st.Append(lightEntry(msg, len(media) > 0), media)

	// Own messages re-enter only on the explicit retry / chain-append
	// paths; anything else would loop.
	if msg.SenderID == a.agentID {
		if !(msg.ExtBool("auto_trigger") && (msg.ExtBool("retry") || msg.ExtBool("chain_append"))) {
			return
		}
	}

	a.processed.Add(1)
	if err := a.maybeSummarize(ctx); err != nil {
		a.logger.Warn("Summarisation failed", "error", err)
	}

	decision, err := a.behavior.ShouldRespond(ctx, a, a.currentTopic(), msg)
	if err != nil {
		a.errCount.Add(1)
		a.logger.Error("Decision failed", "message", msg.MessageID, "error", err)
		return
	}

	switch decision.Action {
	case DecideSilent:
		a.publishSilent(ctx, msg, decision.Reason)
	case DecideLike:
		a.publishReaction(ctx, msg, "like")
	case DecideOppose:
		a.sendOppose(ctx, msg)
	case DecideAskHuman:
		a.sendAskHuman(ctx, msg)
	case DecideDelegate:
		a.sendDelegate(ctx, msg, decision.DelegateTo)
	default:
		a.processMessage(ctx, msg, decision)
	}
}

func (a *Actor) currentTopic() *models.Topic {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.topic
}

// processMessage runs the ReAct loop and streams the final reply.
func (a *Actor) processMessage(ctx context.Context, msg *models.Message, decision *Decision) {
	ictx := NewIterationContext(msg)
	a.checkInheritedChain(ctx, ictx)

	if decision != nil && decision.Reason != "" {
		step := ictx.AddStep(StepDecision, "决定回复", decision.Reason)
		step.Decision = &DecisionDetail{Action: decision.Action, Reason: decision.Reason}
		ictx.CompleteStep(step, StepStatusCompleted, "")
	}

	a.publishThinking(ctx, ictx)
	a.deps.Topics.PublishProcessEvent(ctx, a.Topic(), a.agentID, bus.PhaseMsgDeal, "start", nil)

	for ictx.Iteration < ictx.MaxIterations {
		ictx.Iteration++

		steps, err := a.behavior.PlanActions(ctx, a, ictx)
		if err != nil {
			a.logger.Warn("Planning failed", "iteration", ictx.Iteration, "error", err)
			break
		}
		ictx.PlannedActions = append(ictx.PlannedActions, steps...)

		step, ok := ictx.NextPending()
		if !ok {
			break // nothing to do: go straight to the final response
		}

		a.executeAction(ctx, ictx, step)
		a.advanceChain(ctx, ictx)

		if interrupted, err := a.deps.Topics.ConsumeInterrupt(ctx, a.Topic(), a.agentID); err == nil && interrupted {
			ictx.Interrupted = true
			a.logger.Info("Interrupted by user", "message", msg.MessageID)
			break
		}
		if !a.behavior.ShouldContinue(a, ictx) {
			break
		}
	}

	if err := a.finalResponse(ctx, ictx); err != nil {
		a.publishError(ctx, ictx, err)
	}
	a.deps.Topics.PublishProcessEvent(ctx, a.Topic(), a.agentID, bus.PhasePostMsgDeal, "done", nil)
}

// executeAction runs one planned step with its before/after bookkeeping
// and appends the result. executed results never outnumber planned steps.
func (a *Actor) executeAction(ctx context.Context, ictx *IterationContext, step *models.ActionStep) {
	step.Status = models.StepRunning
	trace := ictx.AddStep(stepTraceType(step.ActionType), step.Description, "")
	ictx.AddLog(a.agentID, a.agentName(), bus.LogStep, fmt.Sprintf("执行动作 %s", step.ActionType), nil)
	a.publishThinking(ctx, ictx)

	result := a.dispatchAction(ctx, ictx, step, trace)
	result.StepID = step.StepID
	result.ActionType = step.ActionType
	ictx.ExecutedResults = append(ictx.ExecutedResults, result)

	if result.Success {
		step.Status = models.StepCompleted
		ictx.CompleteStep(trace, StepStatusCompleted, "")
	} else {
		step.Status = models.StepError
		ictx.CompleteStep(trace, StepStatusError, result.Error)
		ictx.AddLog(a.agentID, a.agentName(), bus.LogError, result.Error, nil)
	}
	step.Result = result.Data
	a.publishThinking(ctx, ictx)
}

func (a *Actor) dispatchAction(ctx context.Context, ictx *IterationContext, step *models.ActionStep, trace *ProcessStep) models.ActionResult {
	switch step.ActionType {
	case models.ActionUseMCP:
		return a.callMCP(ctx, ictx, step, trace)

	case models.ActionSelfGen:
		// Generation happens in the final-response phase.
		return models.ActionResult{Success: true}

	case models.ActionCallAgent:
		return a.callAgent(ctx, ictx, step)

	case models.ActionCallHuman:
		ictx.WaitingForHuman = true
		return models.ActionResult{Success: true, Data: map[string]any{"waiting_for_human": true}}

	case models.ActionAccept:
		return models.ActionResult{Success: true, Data: "accepted"}

	case models.ActionRefuse:
		step.Interrupt = true
		if ictx.Chain != nil {
			ictx.Chain.Status = models.ChainInterrupted
		}
		return models.ActionResult{Success: true, Data: "refused"}

	case models.ActionSelfDecision:
		note, _ := step.Params["decision"].(string)
		ictx.DecisionNotes = append(ictx.DecisionNotes, note)
		return models.ActionResult{Success: true, Data: note}

	default:
		return models.ActionResult{Success: false, Error: fmt.Sprintf("未知动作类型: %s", step.ActionType)}
	}
}

// callMCP hands one AG_USE_MCP step to the MCP execution subsystem and
// folds the outcome into the iteration's tool results.
func (a *Actor) callMCP(ctx context.Context, ictx *IterationContext, step *models.ActionStep, trace *ProcessStep) models.ActionResult {
	if a.runnerRef() == nil {
		return models.ActionResult{Success: false, Error: fmt.Sprintf("MCP 服务 %s 未注册或不可用", step.MCPServerID)}
	}

	cfg, err := a.resolveLLMConfig(ctx, ictx)
	if err != nil {
		return models.ActionResult{Success: false, Error: err.Error()}
	}
	provider, err := a.deps.NewProvider(cfg)
	if err != nil {
		return models.ActionResult{Success: false, Error: err.Error()}
	}

	forced := step.MCPToolName
	if forced == "auto" {
		forced = ""
	}

	input := a.buildMCPInput(ictx)
	outcome, err := a.runnerRef().ExecuteWithLLM(ctx, provider, step.MCPServerID, input, forced)
	if err != nil {
		return models.ActionResult{Success: false, Error: err.Error()}
	}

	trace.MCP = &MCPStepDetail{
		Server:     step.MCPServerID,
		ServerName: a.mcpServerName(step.MCPServerID),
		ToolName:   outcome.ToolName,
		Arguments:  outcome.Arguments,
	}
	record := MCPResult{
		ServerID:   step.MCPServerID,
		ServerName: a.mcpServerName(step.MCPServerID),
		ToolName:   outcome.ToolName,
		Arguments:  outcome.Arguments,
		Status:     "completed",
	}

	if outcome.IsError {
		record.Status = "error"
		record.ErrorMessage = outcome.Text
		ictx.MCPResults = append(ictx.MCPResults, record)
		if outcome.ErrorType == mcp.ErrTypeParameter {
			// Feed the validation message back so the next ReAct round can
			// retry with repaired arguments.
			ictx.ToolResults += fmt.Sprintf("\n【工具调用失败 - 需要修复参数】\n[MCP:%s] %s\n", step.MCPServerID, outcome.Text)
		}
		return models.ActionResult{Success: false, Error: outcome.Text}
	}

	record.Result = outcome.Text
	record.ExtractedMedia = outcome.Media
	ictx.MCPResults = append(ictx.MCPResults, record)
	if outcome.Text != "" {
		ictx.ToolResults += fmt.Sprintf("\n[MCP:%s]\n%s\n", step.MCPServerID, outcome.Text)
	}
	ictx.MCPMedia = append(ictx.MCPMedia, outcome.Media...)
	ictx.AddLog(a.agentID, a.agentName(), bus.LogTool, fmt.Sprintf("调用 %s.%s 成功", step.MCPServerID, outcome.ToolName), nil)
	return models.ActionResult{Success: true, Data: outcome.Text}
}

func (a *Actor) runnerRef() MCPRunner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runner
}

func (a *Actor) mcpServerName(serverID string) string {
	if reg := a.Registry(); reg != nil {
		if c, ok := reg.GetMCP(serverID); ok {
			return c.Name
		}
	}
	return serverID
}

// buildMCPInput composes the natural-language task for tool selection:
// the user request plus any tool output gathered so far (including repair
// context from failed calls).
func (a *Actor) buildMCPInput(ictx *IterationContext) string {
	var b strings.Builder
	b.WriteString(ictx.Original.Content)
	if ictx.ToolResults != "" {
		b.WriteString("\n\n已有的工具执行情况：\n")
		b.WriteString(ictx.ToolResults)
	}
	return b.String()
}

// callAgent executes an AG_CALL_AG hand-off: persist the chain, post the
// @-message on the target topic, and return without waiting for a reply.
func (a *Actor) callAgent(ctx context.Context, ictx *IterationContext, step *models.ActionStep) models.ActionResult {
	target := step.TargetAgentID
	if target == "" {
		return models.ActionResult{Success: false, Error: "缺少 target_agent_id"}
	}
	targetTopic := step.TargetTopicID
	if targetTopic == "" {
		targetTopic = a.Topic()
	}
	text, _ := step.Params["message"].(string)
	if text == "" {
		text = ictx.Original.Content
	}

	if a.deps.Chains == nil {
		return models.ActionResult{Success: false, Error: "action chain store 未配置"}
	}

	// Chains are created lazily on the first hand-off.
	if ictx.Chain == nil {
		ictx.Chain = chain.NewChain(a.agentID, a.Topic(), step.Description, ictx.PlannedActions)
		ictx.ActionChainID = ictx.Chain.ChainID
		ictx.ChainStepIndex = chainIndexOf(ictx.Chain, step.StepID)
		ictx.Chain.CurrentIndex = ictx.ChainStepIndex
	}
	if err := a.deps.Chains.Save(ctx, ictx.Chain); err != nil {
		return models.ActionResult{Success: false, Error: fmt.Sprintf("保存 action chain 失败: %v", err)}
	}

	_, err := a.deps.Topics.SendMessage(ctx, models.SendMessageRequest{
		TopicID:    targetTopic,
		SenderID:   a.agentID,
		SenderType: models.SenderAgent,
		Role:       models.RoleUser,
		Content:    fmt.Sprintf("@%s %s", target, text),
		Mentions:   []string{target},
		Ext: map[string]any{
			"action_chain_id":  ictx.ActionChainID,
			"chain_step_index": ictx.ChainStepIndex,
			"origin_agent_id":  a.agentID,
			"delegated_to":     target,
		},
	})
	if err != nil {
		return models.ActionResult{Success: false, Error: fmt.Sprintf("发送委托消息失败: %v", err)}
	}
	ictx.AddLog(a.agentID, a.agentName(), bus.LogStep, fmt.Sprintf("已将任务交给 @%s", target), nil)
	return models.ActionResult{Success: true, Data: map[string]any{"delegated_to": target, "topic": targetTopic}}
}

func chainIndexOf(c *models.ActionChain, stepID string) int {
	for i := range c.Steps {
		if c.Steps[i].StepID == stepID {
			return i
		}
	}
	return 0
}

// checkInheritedChain resumes a chain referenced by the incoming message.
// A missing chain is a warning, never a user-facing failure.
func (a *Actor) checkInheritedChain(ctx context.Context, ictx *IterationContext) {
	if ictx.ActionChainID == "" || a.deps.Chains == nil {
		return
	}
	c, err := a.deps.Chains.Load(ctx, ictx.ActionChainID)
	if err != nil {
		if errors.Is(err, chain.ErrChainNotFound) {
			a.logger.Warn("Inherited chain not found, treating as fresh message", "chain", ictx.ActionChainID)
		} else {
			a.logger.Warn("Inherited chain load failed", "chain", ictx.ActionChainID, "error", err)
		}
		ictx.ActionChainID = ""
		return
	}
	ictx.Chain = c
	ictx.InheritedChain = true
	if _, ok := ictx.Original.ExtInt("chain_step_index"); !ok {
		ictx.ChainStepIndex = c.CurrentIndex
	}
	step := ictx.AddStep(StepChainResumed, "继续执行任务链",
		fmt.Sprintf("(%d/%d)", ictx.ChainStepIndex+1, len(c.Steps)))
	ictx.CompleteStep(step, StepStatusCompleted, "")
}

// advanceChain moves an active chain past the just-executed step, persists
// it, and publishes progress.
func (a *Actor) advanceChain(ctx context.Context, ictx *IterationContext) {
	if ictx.Chain == nil || !ictx.InheritedChain {
		return
	}
	ictx.Chain.Advance()
	if err := a.deps.Chains.Save(ctx, ictx.Chain); err != nil {
		a.logger.Warn("Chain save failed", "chain", ictx.Chain.ChainID, "error", err)
	}
	a.deps.Topics.PublishChainProgress(ctx, a.Topic(), ictx.Chain)
}

// resolveLLMConfig picks the provider config for this call. User overrides
// (explicit config id, then model name) apply only in 1:1 agent sessions;
// group chats always use the agent's own default so personas stay
// consistent. No silent fallback: a missing config is an error.
func (a *Actor) resolveLLMConfig(ctx context.Context, ictx *IterationContext) (*models.LLMConfig, error) {
	cfg := a.Config()
	top := a.currentTopic()

	if top != nil && top.SessionType == models.SessionAgent {
		if id := ictx.UserSelectedConfigID; id != "" && id != cfg.LLMConfigID {
			c, err := a.deps.LLMConfigs.FindByID(ctx, id)
			if err == nil && c.Enabled {
				return c, nil
			}
			a.logger.Warn("User-selected LLM config unusable, falling back", "config", id, "error", err)
		}
		if model := ictx.UserSelectedModel; model != "" {
			c, err := a.deps.LLMConfigs.FindByModel(ctx, model)
			if err == nil && c.Enabled {
				return c, nil
			}
		}
	}

	if cfg.LLMConfigID != "" {
		c, err := a.deps.LLMConfigs.FindByID(ctx, cfg.LLMConfigID)
		if err != nil {
			return nil, fmt.Errorf("agent %s llm config %s: %w", a.agentID, cfg.LLMConfigID, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("agent %s has no llm config", a.agentID)
}

func (a *Actor) agentName() string {
	if cfg := a.Config(); cfg != nil && cfg.Name != "" {
		return cfg.Name
	}
	return a.agentID
}

func (a *Actor) agentAvatar() string {
	if cfg := a.Config(); cfg != nil {
		return cfg.Avatar
	}
	return ""
}

// loadSkillsFromExt registers skill packs declared in agent ext["skills"].
func loadSkillsFromExt(reg *capability.Registry, cfg *models.AgentConfig) {
	if cfg == nil || cfg.Ext == nil {
		return
	}
	skills, ok := cfg.Ext["skills"].([]any)
	if !ok {
		return
	}
	for _, raw := range skills {
		d, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		s := &capability.SkillCapability{}
		s.SkillID, _ = d["id"].(string)
		if s.SkillID == "" {
			s.SkillID, _ = d["skill_id"].(string)
		}
		if s.SkillID == "" {
			continue
		}
		s.Name, _ = d["name"].(string)
		s.Description, _ = d["description"].(string)
		s.TriggerKeywords = stringSlice(d["trigger_keywords"])
		s.Steps = stringSlice(d["steps"])
		s.RequiredMCPs = stringSlice(d["required_mcps"])
		reg.RegisterSkill(s)
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func extValue(m *models.Message, key string) any {
	if m.Ext == nil {
		return nil
	}
	return m.Ext[key]
}

func stepTraceType(t models.ActionType) string {
	switch t {
	case models.ActionUseMCP:
		return StepMCPSelection
	case models.ActionSelfDecision, models.ActionAccept, models.ActionRefuse:
		return StepDecision
	case models.ActionCallAgent, models.ActionCallHuman:
		return StepPlanning
	default:
		return StepIteration
	}
}
