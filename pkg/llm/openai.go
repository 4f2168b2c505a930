package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agora-ai/agora/pkg/models"
)

// openaiProvider speaks the OpenAI chat-completions protocol, which most
// third-party gateways also implement. Reasoning deltas arrive on the
// reasoning_content field used by DeepSeek-style thinking models.
type openaiProvider struct {
	client *openai.Client
	model  string
}

func newOpenAIProvider(cfg *models.LLMConfig) *openaiProvider {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIURL != "" {
		c.BaseURL = cfg.APIURL
	}
	return &openaiProvider{
		client: openai.NewClientWithConfig(c),
		model:  cfg.Model,
	}
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: empty choices")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		Thinking:     choice.Message.ReasoningContent,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *openaiProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		// Tool-call fragments are keyed by index and flushed at stream end.
		type partialCall struct {
			id   string
			name string
			args string
		}
		calls := map[int]*partialCall{}
		var order []int

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				out <- &ErrorChunk{Message: err.Error(), Retryable: true}
				return
			}

			if resp.Usage != nil {
				out <- &UsageChunk{Usage: Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
					TotalTokens:  resp.Usage.TotalTokens,
				}}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.ReasoningContent != "" {
				out <- &ThinkingChunk{Content: delta.ReasoningContent}
			}
			if delta.Content != "" {
				out <- &TextChunk{Content: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc, ok := calls[idx]
				if !ok {
					pc = &partialCall{}
					calls[idx] = pc
					order = append(order, idx)
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}
		}

		for _, idx := range order {
			pc := calls[idx]
			out <- &ToolCallChunk{Call: ToolCall{ID: pc.id, Name: pc.name, Arguments: pc.args}}
		}
	}()
	return out, nil
}

func (p *openaiProvider) buildRequest(req *ChatRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toOpenAIMessage(m))
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	switch req.ToolChoice {
	case "", "auto":
		if len(out.Tools) > 0 {
			out.ToolChoice = "auto"
		}
	case "none":
		out.ToolChoice = "none"
	default:
		out.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ToolChoice},
		}
	}
	return out
}

func toOpenAIMessage(m ChatMessage) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Role: string(m.Role)}

	switch {
	case m.ToolCallID != "":
		msg.Role = openai.ChatMessageRoleTool
		msg.ToolCallID = m.ToolCallID
		msg.Content = m.Content
	case len(m.ToolCalls) > 0:
		msg.Content = m.Content
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
	case len(m.Media) > 0:
		// Vision input uses multi-part content with data URLs.
		if m.Content != "" {
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		for _, item := range m.Media {
			if item.Type != models.MediaImage {
				continue
			}
			url := item.URL
			if url == "" && item.Data != "" {
				url = fmt.Sprintf("data:%s;base64,%s", item.MimeType, item.Data)
			}
			if url == "" {
				continue
			}
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
	default:
		msg.Content = m.Content
	}
	return msg
}
