package actor

import (
	"context"
	"fmt"
	"strings"

	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/llm"
	"github.com/agora-ai/agora/pkg/models"
)

// finalResponse builds the reply prompt from persona, capabilities,
// summary, recent history, and accumulated tool output, then streams the
// answer: thinking deltas go out as execution logs, content deltas as
// agent_stream_chunk, and the finished reply is persisted under the
// pre-assigned reply message id before agent_stream_done closes the turn.
func (a *Actor) finalResponse(ctx context.Context, ictx *IterationContext) error {
	if ictx.WaitingForHuman {
		return a.respondAskHuman(ctx, ictx)
	}

	cfg, err := a.resolveLLMConfig(ctx, ictx)
	if err != nil {
		return err
	}
	provider, err := a.deps.NewProvider(cfg)
	if err != nil {
		return err
	}

	// A pending interrupt consumes the whole reply.
	if interrupted, err := a.deps.Topics.ConsumeInterrupt(ctx, a.Topic(), a.agentID); err == nil && interrupted {
		ictx.Interrupted = true
	}
	if ictx.Interrupted {
		return a.finishReply(ctx, ictx, "", nil)
	}

	req := &llm.ChatRequest{
		System:   a.buildSystemPrompt(ictx),
		Messages: a.buildPromptMessages(ictx),
	}

	a.deps.Topics.PublishExecutionLog(ctx, a.Topic(), a.agentID, a.agentName(), bus.LogLLM,
		fmt.Sprintf("调用模型 %s 生成回复", cfg.Model), nil)

	stream, err := provider.ChatStream(ctx, req)
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	var full, thinking strings.Builder
	var pendingMedia []models.MediaItem
	for chunk := range stream {
		switch c := chunk.(type) {
		case *llm.ThinkingChunk:
			thinking.WriteString(c.Content)
			ictx.AddLog(a.agentID, a.agentName(), bus.LogThinking, c.Content, nil)
			a.deps.Topics.PublishExecutionLog(ctx, a.Topic(), a.agentID, a.agentName(), bus.LogThinking, c.Content, nil)
		case *llm.TextChunk:
			full.WriteString(c.Content)
			a.publishChunk(ctx, ictx, c.Content, full.String())
		case *llm.MediaChunk:
			pendingMedia = append(pendingMedia, c.Items...)
		case *llm.ErrorChunk:
			return fmt.Errorf("llm stream failed: %s", c.Message)
		}
	}

	if thinking.Len() > 0 {
		step := ictx.AddStep(StepThinking, "思考", truncateRunes(thinking.String(), 2000))
		ictx.CompleteStep(step, StepStatusCompleted, "")
	}
	return a.finishReply(ctx, ictx, full.String(), pendingMedia)
}

// finishReply persists the assistant message and emits agent_stream_done.
func (a *Actor) finishReply(ctx context.Context, ictx *IterationContext, content string, replyMedia []models.MediaItem) error {
	media := NormalizeMedia(append(replyMedia, ictx.MCPMedia...))
	ext := buildReplyExt(ictx, media)
	ext["message_id"] = ictx.ReplyMessageID
	if ictx.Interrupted {
		ext["interrupted"] = true
	}

	msg, err := a.deps.Topics.SendMessage(ctx, models.SendMessageRequest{
		TopicID:    a.Topic(),
		SenderID:   a.agentID,
		SenderType: models.SenderAgent,
		Role:       models.RoleAssistant,
		Content:    content,
		Ext:        ext,
	})
	if err != nil {
		return fmt.Errorf("persist reply: %w", err)
	}

	// The reply enters local history here; the echoed new_message event is
	// then dropped by the dedup check.
	st := a.State()
	st.MarkProcessed(msg.MessageID)
	st.Append(lightEntry(msg, len(media) > 0), media)

	done := bus.StreamDonePayload{
		BasePayload:     bus.NewBasePayload(bus.EventAgentStreamDone),
		AgentID:         a.agentID,
		MessageID:       ictx.ReplyMessageID,
		Content:         content,
		ProcessSteps:    ictx.StepsAsAny(),
		ProcessMessages: anySlice(legacyProcessMessages(ictx)),
		ExecutionLogs:   ictx.LogsAsAny(),
		Media:           media,
	}
	if err := a.deps.Topics.Publish(ctx, a.Topic(), done); err != nil {
		a.logger.Warn("Failed to publish stream done", "error", err)
	}
	return nil
}

// respondAskHuman closes an AG_CALL_HUMAN turn by quoting the user request
// at the human instead of generating text.
func (a *Actor) respondAskHuman(ctx context.Context, ictx *IterationContext) error {
	content := fmt.Sprintf("@human 我需要你确认/执行以下事项：%s", ictx.Original.Content)
	ext := buildReplyExt(ictx, nil)
	ext["message_id"] = ictx.ReplyMessageID
	ext["needs_human"] = true

	msg, err := a.deps.Topics.SendMessage(ctx, models.SendMessageRequest{
		TopicID:    a.Topic(),
		SenderID:   a.agentID,
		SenderType: models.SenderAgent,
		Role:       models.RoleAssistant,
		Content:    content,
		Mentions:   []string{"human"},
		Ext:        ext,
	})
	if err != nil {
		return err
	}
	st := a.State()
	st.MarkProcessed(msg.MessageID)
	st.Append(lightEntry(msg, false), nil)

	done := bus.StreamDonePayload{
		BasePayload:  bus.NewBasePayload(bus.EventAgentStreamDone),
		AgentID:      a.agentID,
		MessageID:    ictx.ReplyMessageID,
		Content:      content,
		ProcessSteps: ictx.StepsAsAny(),
	}
	return a.deps.Topics.Publish(ctx, a.Topic(), done)
}

// buildSystemPrompt assembles persona + capability catalogue + optional
// topic SOP + tool-output guidance.
func (a *Actor) buildSystemPrompt(ictx *IterationContext) string {
	var b strings.Builder
	cfg := a.Config()
	if cfg != nil && cfg.SystemPrompt != "" {
		b.WriteString(cfg.SystemPrompt)
	}

	if reg := a.Registry(); reg != nil {
		if desc := reg.GetCapabilityDescription(); desc != "" {
			b.WriteString("\n\n")
			b.WriteString(desc)
		}
	}

	if sop := a.topicSOP(); sop != "" {
		b.WriteString("\n\n[当前话题 SOP]\n")
		b.WriteString(sop)
	}

	if ictx.ToolResults != "" {
		b.WriteString("\n\n接下来会给出工具执行结果，请基于这些结果用自然语言回答用户。")
	}
	return b.String()
}

// topicSOP returns the pinned skill pack's steps for group topics.
func (a *Actor) topicSOP() string {
	top := a.currentTopic()
	reg := a.Registry()
	if top == nil || reg == nil || top.SessionType != models.SessionTopicGeneral || top.Ext == nil {
		return ""
	}
	skillID, _ := top.Ext["skill_id"].(string)
	if skillID == "" {
		return ""
	}
	for _, s := range reg.Skills() {
		if s.SkillID == skillID {
			return strings.Join(s.Steps, "\n")
		}
	}
	return ""
}

// buildPromptMessages assembles the conversation for the final call:
// optional summary block, recent history, tool results, and the current
// user message with media attached.
func (a *Actor) buildPromptMessages(ictx *IterationContext) []llm.ChatMessage {
	st := a.State()
	var messages []llm.ChatMessage

	if summary, _ := st.Summary(); summary != "" {
		messages = append(messages, llm.ChatMessage{
			Role:    models.RoleSystem,
			Content: SummaryPrefix + summary,
		})
	}

	messages = append(messages, st.GetRecentHistory(
		promptMaxMessages, promptMaxTotalChars, promptMaxMsgChars, false, ictx.Original.MessageID)...)

	if ictx.ToolResults != "" {
		heading := "【工具执行结果】"
		suffix := ""
		if ictx.HasMCPFailure() {
			heading = "【工具执行失败】"
			suffix = "\n请如实告知用户失败情况，不要编造不存在的结果。"
		}
		messages = append(messages, llm.ChatMessage{
			Role:    models.RoleAssistant,
			Content: heading + "\n" + ictx.ToolResults + suffix,
		})
	}

	current := llm.ChatMessage{Role: models.RoleUser, Content: ictx.Original.Content}
	if media := NormalizeMedia(extValue(ictx.Original, "media")); len(media) > 0 {
		current.Media = media
	} else if ShouldAttachLastMedia(ictx.Original.Content) {
		current.Media = st.LastMedia()
	}
	return append(messages, current)
}

// publishError is the compensating path for any failure inside processing:
// a stream_done with the error plus a persisted assistant message so the
// conversation shows what happened.
func (a *Actor) publishError(ctx context.Context, ictx *IterationContext, procErr error) {
	a.errCount.Add(1)
	a.logger.Error("Message processing failed", "topic", a.Topic(),
		"message", ictx.Original.MessageID, "error", procErr)

	content := fmt.Sprintf("[错误] %s 无法产生回复: %v", a.agentName(), procErr)
	ext := buildReplyExt(ictx, nil)
	ext["message_id"] = ictx.ReplyMessageID
	ext["error"] = procErr.Error()
	ext["processSteps"] = ictx.ProcessSteps

	msg, err := a.deps.Topics.SendMessage(ctx, models.SendMessageRequest{
		TopicID:    a.Topic(),
		SenderID:   a.agentID,
		SenderType: models.SenderAgent,
		Role:       models.RoleAssistant,
		Content:    content,
		Ext:        ext,
	})
	if err != nil {
		a.logger.Error("Failed to persist error message", "error", err)
	} else {
		st := a.State()
		st.MarkProcessed(msg.MessageID)
		st.Append(lightEntry(msg, false), nil)
	}

	done := bus.StreamDonePayload{
		BasePayload:   bus.NewBasePayload(bus.EventAgentStreamDone),
		AgentID:       a.agentID,
		MessageID:     ictx.ReplyMessageID,
		Content:       content,
		ProcessSteps:  ictx.StepsAsAny(),
		ExecutionLogs: ictx.LogsAsAny(),
		Error:         procErr.Error(),
	}
	if err := a.deps.Topics.Publish(ctx, a.Topic(), done); err != nil {
		a.logger.Warn("Failed to publish error stream done", "error", err)
	}
}

func (a *Actor) publishThinking(ctx context.Context, ictx *IterationContext) {
	p := bus.AgentThinkingPayload{
		BasePayload:     bus.NewBasePayload(bus.EventAgentThinking),
		AgentID:         a.agentID,
		AgentName:       a.agentName(),
		AgentAvatar:     a.agentAvatar(),
		MessageID:       ictx.ReplyMessageID,
		ProcessSteps:    ictx.StepsAsAny(),
		ProcessMessages: anySlice(legacyProcessMessages(ictx)),
		InReplyTo:       ictx.Original.MessageID,
	}
	if err := a.deps.Topics.Publish(ctx, a.Topic(), p); err != nil {
		a.logger.Debug("Failed to publish agent_thinking", "error", err)
	}
}

func (a *Actor) publishChunk(ctx context.Context, ictx *IterationContext, chunk, accumulated string) {
	p := bus.StreamChunkPayload{
		BasePayload: bus.NewBasePayload(bus.EventAgentStreamChunk),
		AgentID:     a.agentID,
		MessageID:   ictx.ReplyMessageID,
		Chunk:       chunk,
		Accumulated: accumulated,
	}
	if err := a.deps.Topics.Publish(ctx, a.Topic(), p); err != nil {
		a.logger.Debug("Failed to publish stream chunk", "error", err)
	}
}

func (a *Actor) publishSilent(ctx context.Context, msg *models.Message, reason string) {
	p := bus.AgentSilentPayload{
		BasePayload: bus.NewBasePayload(bus.EventAgentSilent),
		AgentID:     a.agentID,
		InReplyTo:   msg.MessageID,
		Reason:      reason,
	}
	if err := a.deps.Topics.Publish(ctx, msg.TopicID, p); err != nil {
		a.logger.Debug("Failed to publish agent_silent", "error", err)
	}
}

func (a *Actor) publishReaction(ctx context.Context, msg *models.Message, reaction string) {
	p := bus.ReactionPayload{
		BasePayload:    bus.NewBasePayload(bus.EventReaction),
		Reaction:       reaction,
		MessageID:      msg.MessageID,
		FromAgentID:    a.agentID,
		FromAgentName:  a.agentName(),
		TargetSenderID: msg.SenderID,
	}
	if err := a.deps.Topics.Publish(ctx, msg.TopicID, p); err != nil {
		a.logger.Debug("Failed to publish reaction", "error", err)
	}
}

// sendOppose posts a quoted disagreement reply.
func (a *Actor) sendOppose(ctx context.Context, msg *models.Message) {
	quote := truncateRunes(msg.Content, 120)
	content := fmt.Sprintf("> 引用：%s\n\n我不同意上述观点。", quote)
	_, err := a.deps.Topics.SendMessage(ctx, models.SendMessageRequest{
		TopicID:    msg.TopicID,
		SenderID:   a.agentID,
		SenderType: models.SenderAgent,
		Role:       models.RoleAssistant,
		Content:    content,
		Ext: map[string]any{
			"quotedMessage": map[string]any{
				"message_id": msg.MessageID,
				"content":    quote,
			},
		},
	})
	if err != nil {
		a.logger.Warn("Failed to send oppose reply", "error", err)
	}
}

// sendAskHuman forwards the request to the human for confirmation.
func (a *Actor) sendAskHuman(ctx context.Context, msg *models.Message) {
	content := fmt.Sprintf("@human 我需要你确认/执行以下事项：%s", msg.Content)
	_, err := a.deps.Topics.SendMessage(ctx, models.SendMessageRequest{
		TopicID:    msg.TopicID,
		SenderID:   a.agentID,
		SenderType: models.SenderAgent,
		Role:       models.RoleAssistant,
		Content:    content,
		Mentions:   []string{"human"},
		Ext:        map[string]any{"needs_human": true},
	})
	if err != nil {
		a.logger.Warn("Failed to send ask-human message", "error", err)
	}
}

// sendDelegate forwards the message to another agent via @mention.
func (a *Actor) sendDelegate(ctx context.Context, msg *models.Message, delegateTo string) {
	if delegateTo == "" {
		a.publishSilent(ctx, msg, "委托目标缺失")
		return
	}
	content := fmt.Sprintf("@%s %s", delegateTo, msg.Content)
	_, err := a.deps.Topics.SendMessage(ctx, models.SendMessageRequest{
		TopicID:    msg.TopicID,
		SenderID:   a.agentID,
		SenderType: models.SenderAgent,
		Role:       models.RoleUser,
		Content:    content,
		Mentions:   []string{delegateTo},
		Ext: map[string]any{
			"delegated_to":    delegateTo,
			"origin_agent_id": a.agentID,
		},
	})
	if err != nil {
		a.logger.Warn("Failed to send delegate message", "error", err)
	}
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}
