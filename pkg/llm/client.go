// Package llm abstracts chat-completion providers behind a single streaming
// contract. Callers only rely on three properties: stream-ability, thinking
// output delivered as separate chunks (never mixed into user-visible
// content), and media pass-through with the thoughtSignature intact.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agora-ai/agora/pkg/models"
)

// ChatMessage is one turn of a provider conversation.
type ChatMessage struct {
	Role       models.Role
	Content    string
	Media      []models.MediaItem
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool result messages only
	ToolName   string     // tool result messages only
}

// ToolDefinition describes a callable tool in the OpenAI function shape.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ToolCall is an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ChatRequest carries one chat or chat-stream invocation.
type ChatRequest struct {
	System      string
	Messages    []ChatMessage
	Tools       []ToolDefinition
	ToolChoice  string // "", "auto", "none", or a specific tool name
	Temperature float32
	MaxTokens   int
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ChatResponse is the collected result of a chat call.
type ChatResponse struct {
	Content      string
	Thinking     string
	ToolCalls    []ToolCall
	Media        []models.MediaItem
	FinishReason string
	Usage        *Usage
}

// Provider is a configured connection to one LLM backend.
type Provider interface {
	// Name identifies the provider type ("openai", "anthropic", "gemini").
	Name() string

	// Chat performs a synchronous call and returns the collected response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream performs a streamed call. The channel is closed when the
	// stream completes; provider errors arrive as an ErrorChunk.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan Chunk, error)
}

// Chunk is one streamed event from a provider.
type Chunk interface {
	chunk()
}

// TextChunk is a delta of the user-visible response.
type TextChunk struct{ Content string }

// ThinkingChunk is a delta of the model's reasoning trace.
type ThinkingChunk struct{ Content string }

// ToolCallChunk carries one fully assembled tool call.
type ToolCallChunk struct{ Call ToolCall }

// MediaChunk carries provider-generated media. For providers that attach
// an opaque signature to generated media it is preserved verbatim on the
// items; downstream code must not re-encode it.
type MediaChunk struct{ Items []models.MediaItem }

// UsageChunk reports token counts, emitted once near stream end.
type UsageChunk struct{ Usage Usage }

// ErrorChunk terminates the stream with a provider error.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (*TextChunk) chunk()     {}
func (*ThinkingChunk) chunk() {}
func (*ToolCallChunk) chunk() {}
func (*MediaChunk) chunk()    {}
func (*UsageChunk) chunk()    {}
func (*ErrorChunk) chunk()    {}

// StreamCallback observes chunks as they arrive during collection.
type StreamCallback func(Chunk)

// Collect drains a chunk channel into a ChatResponse, invoking the optional
// callback for every chunk. An ErrorChunk aborts collection with an error.
func Collect(stream <-chan Chunk, callback StreamCallback) (*ChatResponse, error) {
	resp := &ChatResponse{}
	var text, thinking strings.Builder

	for chunk := range stream {
		if callback != nil {
			callback(chunk)
		}
		switch c := chunk.(type) {
		case *TextChunk:
			text.WriteString(c.Content)
		case *ThinkingChunk:
			thinking.WriteString(c.Content)
		case *ToolCallChunk:
			resp.ToolCalls = append(resp.ToolCalls, c.Call)
		case *MediaChunk:
			resp.Media = append(resp.Media, c.Items...)
		case *UsageChunk:
			u := c.Usage
			resp.Usage = &u
		case *ErrorChunk:
			return nil, fmt.Errorf("llm stream failed: %s", c.Message)
		}
	}

	resp.Content = text.String()
	resp.Thinking = thinking.String()
	return resp, nil
}
