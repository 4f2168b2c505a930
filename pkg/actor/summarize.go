package actor

import (
	"context"
	"fmt"
	"strings"

	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/llm"
	"github.com/agora-ai/agora/pkg/models"
)

// summarySystemPrompt is the fixed instruction for the summary model.
const summarySystemPrompt = `你是一个对话摘要器。请把以下对话浓缩成可供后续继续对话的「记忆摘要」。
要求：
- 保留关键事实、用户偏好、已做决定、待办事项等。
- 去掉寒暄与重复。
- 输出中文，控制在 400~800 字。
- 只输出摘要正文，不要标题。`

const (
	// summaryKeepRecent messages stay verbatim; older ones get condensed.
	summaryKeepRecent = 5
	// summaryMaxBlock caps how many messages one summary pass condenses.
	summaryMaxBlock = 80
	// summaryMinBlock is the smallest block worth a summary call.
	summaryMinBlock = 5
	// summaryLineMaxChars truncates each line fed to the summary model.
	summaryLineMaxChars = 1200
)

// maybeSummarize condenses the older history block into the running
// summary when the buffer exceeds the model's memory budget. The agent's
// default LLM is always used for summaries, regardless of any per-turn
// user override: summaries are a background cost, not part of the turn.
func (a *Actor) maybeSummarize(ctx context.Context) error {
	st := a.State()
	a.mu.Lock()
	defaultCfg := a.defaultConfig
	a.mu.Unlock()

	model := ""
	if defaultCfg != nil {
		model = defaultCfg.Model
	}
	if !st.CheckMemoryBudget(model, memoryThreshold) {
		return nil
	}
	if defaultCfg == nil {
		return fmt.Errorf("memory budget exceeded but no llm config to summarise with")
	}

	block, untilID := st.SummaryBlock(summaryKeepRecent, summaryMaxBlock)
	if len(block) < summaryMinBlock {
		return nil
	}

	provider, err := a.deps.NewProvider(defaultCfg)
	if err != nil {
		return err
	}

	var b strings.Builder
	if prev, _ := st.Summary(); prev != "" {
		b.WriteString("已有摘要：\n")
		b.WriteString(prev)
		b.WriteString("\n\n新增对话：\n")
	}
	for _, e := range block {
		b.WriteString(string(e.Role))
		b.WriteString(": ")
		b.WriteString(truncateRunes(stripPromptNoise(e.Content), summaryLineMaxChars))
		b.WriteString("\n")
	}

	resp, err := provider.Chat(ctx, &llm.ChatRequest{
		System:   summarySystemPrompt,
		Messages: []llm.ChatMessage{{Role: models.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return fmt.Errorf("summary llm call: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("summary llm returned empty content")
	}

	st.SetSummary(summary, untilID)
	a.logger.Info("History summarised", "topic", st.TopicID(),
		"condensed", len(block), "summary_chars", len([]rune(summary)))
	a.deps.Topics.PublishExecutionLog(ctx, st.TopicID(), a.agentID, a.agentName(),
		bus.LogInfo, "对话历史已自动摘要", nil)
	return nil
}
