package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agora-ai/agora/pkg/models"
)

// defaultAnthropicMaxTokens caps completions when the caller sets no limit.
const defaultAnthropicMaxTokens = 4096

// anthropicProvider speaks the Claude Messages API.
type anthropicProvider struct {
	client sdk.Client
	model  string
}

func newAnthropicProvider(cfg *models.LLMConfig) *anthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIURL))
	}
	return &anthropicProvider{
		client: sdk.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := p.client.Messages.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	out := &ChatResponse{FinishReason: string(msg.StopReason)}
	var text, thinking strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	out.Content = text.String()
	out.Thinking = thinking.String()
	out.Usage = &Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return out, nil
}

func (p *anthropicProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		// Tool-use input JSON arrives as fragments keyed by block index.
		type toolBuf struct {
			id   string
			name string
			args strings.Builder
		}
		toolBlocks := map[int]*toolBuf{}

		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					toolBlocks[int(ev.Index)] = &toolBuf{id: tu.ID, name: tu.Name}
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text != "" {
						out <- &TextChunk{Content: delta.Text}
					}
				case sdk.ThinkingDelta:
					if delta.Thinking != "" {
						out <- &ThinkingChunk{Content: delta.Thinking}
					}
				case sdk.InputJSONDelta:
					if tb := toolBlocks[int(ev.Index)]; tb != nil {
						tb.args.WriteString(delta.PartialJSON)
					}
				}
			case sdk.ContentBlockStopEvent:
				if tb := toolBlocks[int(ev.Index)]; tb != nil {
					delete(toolBlocks, int(ev.Index))
					args := strings.TrimSpace(tb.args.String())
					if args == "" {
						args = "{}"
					}
					out <- &ToolCallChunk{Call: ToolCall{ID: tb.id, Name: tb.name, Arguments: args}}
				}
			case sdk.MessageDeltaEvent:
				out <- &UsageChunk{Usage: Usage{
					InputTokens:  int(ev.Usage.InputTokens),
					OutputTokens: int(ev.Usage.OutputTokens),
					TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
				}}
			}
		}
		if err := stream.Err(); err != nil {
			out <- &ErrorChunk{Message: err.Error(), Retryable: true}
		}
	}()
	return out, nil
}

func (p *anthropicProvider) buildParams(req *ChatRequest) (*sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}

	for _, m := range req.Messages {
		blocks, role, err := toAnthropicBlocks(m)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		if role == models.RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
		} else {
			params.Messages = append(params.Messages, sdk.NewUserMessage(blocks...))
		}
	}

	for _, t := range req.Tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: t.Parameters}, t.Name)
		if u.OfTool != nil && t.Description != "" {
			u.OfTool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	switch req.ToolChoice {
	case "", "auto":
	case "none":
		none := sdk.NewToolChoiceNoneParam()
		params.ToolChoice = sdk.ToolChoiceUnionParam{OfNone: &none}
	default:
		params.ToolChoice = sdk.ToolChoiceParamOfTool(req.ToolChoice)
	}
	return params, nil
}

func toAnthropicBlocks(m ChatMessage) ([]sdk.ContentBlockParamUnion, models.Role, error) {
	var blocks []sdk.ContentBlockParamUnion

	if m.ToolCallID != "" {
		// Tool results travel in user-role messages on this API.
		blocks = append(blocks, sdk.NewToolResultBlock(m.ToolCallID, m.Content, false))
		return blocks, models.RoleUser, nil
	}

	if m.Content != "" {
		blocks = append(blocks, sdk.NewTextBlock(m.Content))
	}
	for _, item := range m.Media {
		if item.Type != models.MediaImage || item.Data == "" {
			continue
		}
		blocks = append(blocks, sdk.NewImageBlockBase64(item.MimeType, item.Data))
	}
	for _, tc := range m.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
			input = map[string]any{}
		}
		blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
	}

	role := m.Role
	if role != models.RoleAssistant {
		role = models.RoleUser
	}
	return blocks, role, nil
}
