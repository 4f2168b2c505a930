// Package chatagent is the concrete conversational agent: its decision
// policy covers mentions, private chats, persona modes, and peer-agent
// messages, with a small LLM intent classifier deciding the ambiguous
// user-message cases. Planning selects MCP servers from the message or a
// keyword-matched skill pack.
package chatagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agora-ai/agora/pkg/actor"
	"github.com/agora-ai/agora/pkg/models"
)

// maxPlannedMCPServers caps how many MCP calls one message plans.
const maxPlannedMCPServers = 3

// personaMaxChars truncates the persona fed to the classifier prompt.
const personaMaxChars = 800

// Decision reasons surfaced in agent_silent / process traces.
const (
	ReasonMentioned  = "被 @ 提及"
	ReasonPeerAgent  = "其他 Agent 的消息"
	ReasonPeerHuman  = "其他 Agent 的消息（等待人工介入）"
	ReasonPrivate    = "私聊会话"
	ReasonNormalMode = "普通应答模式"
)

// questionMarkers are the substrings that classify a user message as a
// question, which flips the classifier default from silent to reply.
var questionMarkers = []string{
	"？", "?", "为什么", "怎么", "如何", "能否", "是否", "吗", "么", "多少", "哪", "哪里", "哪个",
}

// Behavior implements the chat agent on top of the base engine.
type Behavior struct {
	actor.BaseBehavior
}

// New creates a chat agent behavior.
func New() *Behavior { return &Behavior{} }

// ShouldRespond applies the decision policy in priority order: mention,
// private chat, normal response mode, peer-agent silence, then the intent
// classifier for user messages.
func (b *Behavior) ShouldRespond(ctx context.Context, a *actor.Actor, topic *models.Topic, msg *models.Message) (*actor.Decision, error) {
	if msg.IsMentioned(a.AgentID()) {
		return &actor.Decision{Action: actor.DecideReply, Reason: ReasonMentioned, NeedsThinking: true}, nil
	}
	if topic != nil && topic.SessionType == models.SessionPrivateChat {
		return &actor.Decision{Action: actor.DecideReply, Reason: ReasonPrivate}, nil
	}
	if topic != nil && topic.SessionType == models.SessionAgent && responseMode(a.Config()) != "persona" {
		return &actor.Decision{Action: actor.DecideReply, Reason: ReasonNormalMode}, nil
	}
	if msg.SenderType == models.SenderAgent {
		reason := ReasonPeerAgent
		if strings.Contains(msg.Content, "@human") {
			reason = ReasonPeerHuman
		}
		return &actor.Decision{Action: actor.DecideSilent, Reason: reason}, nil
	}

	def := actor.DecideSilent
	if IsQuestion(msg.Content) {
		def = actor.DecideReply
	}
	return b.classifyIntent(ctx, a, msg, def), nil
}

// PlanActions plans one MCP call per selected server (capped), falling
// back to a keyword-matched skill pack's required servers. Subsequent
// rounds delegate to the base repair logic.
func (b *Behavior) PlanActions(ctx context.Context, a *actor.Actor, ictx *actor.IterationContext) ([]models.ActionStep, error) {
	if len(ictx.PlannedActions) > 0 {
		return b.BaseBehavior.PlanActions(ctx, a, ictx)
	}

	reg := a.Registry()
	if reg == nil {
		return nil, nil
	}

	servers := selectedServers(ictx.Original)
	if len(servers) == 0 {
		if skill := reg.FindSkillByKeyword(ictx.Original.Content); skill != nil {
			servers = skill.RequiredMCPs
		}
	}

	var steps []models.ActionStep
	for _, id := range servers {
		if len(steps) == maxPlannedMCPServers {
			break
		}
		cap, ok := reg.GetMCP(id)
		if !ok || !cap.Enabled {
			continue
		}
		step := actor.NewActionStep(models.ActionUseMCP, fmt.Sprintf("调用 %s", cap.Name))
		step.MCPServerID = id
		step.MCPToolName = "auto"
		steps = append(steps, step)
	}
	return steps, nil
}

// classifyIntent runs the small non-streamed LLM call. Any failure falls
// back to the default action; delegation to an absent participant does
// too.
func (b *Behavior) classifyIntent(ctx context.Context, a *actor.Actor, msg *models.Message, def string) *actor.Decision {
	provider, err := a.DefaultProvider()
	if err != nil {
		return &actor.Decision{Action: def, Reason: "分类器不可用，使用默认行动"}
	}

	resp, err := provider.Chat(ctx, classifierRequest(a, msg, def))
	if err != nil {
		return &actor.Decision{Action: def, Reason: "分类器调用失败，使用默认行动"}
	}
	return ParseIntent(resp.Content, def, a.State().Abilities())
}

// ParseIntent extracts the first {...} JSON object from the classifier
// output and validates it. Anything unparseable yields the default.
func ParseIntent(text, def string, agents map[string]string) *actor.Decision {
	fallback := &actor.Decision{Action: def, Reason: "分类器输出无法解析，使用默认行动"}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fallback
	}

	var out struct {
		Action  string `json:"action"`
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return fallback
	}
	if !actor.ValidDecisionAction(out.Action) {
		return fallback
	}
	if out.Action == actor.DecideDelegate {
		if _, ok := agents[out.AgentID]; !ok {
			return fallback
		}
		return &actor.Decision{Action: actor.DecideDelegate, DelegateTo: out.AgentID, Reason: "分类器判定应委托"}
	}
	return &actor.Decision{Action: out.Action, Reason: "分类器判定"}
}

// IsQuestion reports whether the text reads like a question.
func IsQuestion(text string) bool {
	for _, m := range questionMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func responseMode(cfg *models.AgentConfig) string {
	if cfg == nil || cfg.Ext == nil {
		return ""
	}
	persona, ok := cfg.Ext["persona"].(map[string]any)
	if !ok {
		return ""
	}
	mode, _ := persona["responseMode"].(string)
	return mode
}

// selectedServers reads user-selected MCP server ids from the message ext
// ("mcpServers": list of ids or {id} maps).
func selectedServers(msg *models.Message) []string {
	if msg.Ext == nil {
		return nil
	}
	raw, ok := msg.Ext["mcpServers"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		switch x := v.(type) {
		case string:
			out = append(out, x)
		case map[string]any:
			if id, ok := x["id"].(string); ok && id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
