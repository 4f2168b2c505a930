package chatagent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agora-ai/agora/pkg/actor"
	"github.com/agora-ai/agora/pkg/llm"
	"github.com/agora-ai/agora/pkg/models"
)

// classifierRequest builds the intent classification prompt: the agent's
// identity and truncated persona, the peer roster with short ability
// summaries, the user message, and the default action.
func classifierRequest(a *actor.Actor, msg *models.Message, def string) *llm.ChatRequest {
	cfg := a.Config()

	var b strings.Builder
	fmt.Fprintf(&b, "你是群聊中的智能体「%s」。\n", cfg.Name)
	if cfg.SystemPrompt != "" {
		fmt.Fprintf(&b, "你的角色设定：%s\n", truncate(cfg.SystemPrompt, personaMaxChars))
	}

	abilities := a.State().Abilities()
	if len(abilities) > 1 {
		b.WriteString("群内其他智能体：\n")
		ids := make([]string, 0, len(abilities))
		for id := range abilities {
			if id != a.AgentID() {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s：%s\n", id, abilities[id])
		}
	}

	fmt.Fprintf(&b, "\n用户消息：%s\n", msg.Content)
	fmt.Fprintf(&b, "默认行动：%s\n", def)
	b.WriteString(`请判断你应采取的行动，只输出一个 JSON 对象，不要输出其他内容：
{"action": "reply|like|oppose|silent|ask_human|delegate", "agent_id": "委托时填写目标智能体 id"}`)

	return &llm.ChatRequest{
		Messages:    []llm.ChatMessage{{Role: models.RoleUser, Content: b.String()}},
		Temperature: 0,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
