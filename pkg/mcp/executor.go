package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agora-ai/agora/pkg/llm"
	"github.com/agora-ai/agora/pkg/models"
)

// Error types carried on Outcome when a tool call fails.
const (
	// ErrTypeParameter marks a validation failure the LLM can repair by
	// adjusting its arguments.
	ErrTypeParameter = "parameter_error"
	// ErrTypeExecution marks a failure that retrying with different
	// arguments will not fix.
	ErrTypeExecution = "execution_error"
)

// Outcome is the result of one MCP tool execution.
type Outcome struct {
	Text      string
	Media     []models.MediaItem
	ServerID  string
	ToolName  string
	Arguments map[string]any
	IsError   bool
	ErrorType string // ErrTypeParameter or ErrTypeExecution when IsError
}

// Executor runs tool calls against one actor's MCP client, letting an LLM
// pick the tool and arguments for a natural-language task.
type Executor struct {
	client *Client

	// paramErrorKeywords overrides the parameter-error classifier keywords.
	// nil uses DefaultParameterErrorKeywords.
	paramErrorKeywords []string

	logger *slog.Logger
}

// NewExecutor creates an Executor over a connected client.
// keywords may be nil to use the default parameter-error keyword list.
func NewExecutor(client *Client, keywords []string) *Executor {
	return &Executor{
		client:             client,
		paramErrorKeywords: keywords,
		logger:             slog.Default(),
	}
}

// Client returns the underlying MCP client.
func (e *Executor) Client() *Client { return e.client }

// ToolDefinitions lists a server's tools in the shape handed to the LLM,
// with function names namespaced "mcp_<server>_<tool>".
func (e *Executor) ToolDefinitions(ctx context.Context, serverID string) ([]llm.ToolDefinition, error) {
	tools, err := e.client.ListTools(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        FunctionName(serverID, t.Name),
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		})
	}
	return defs, nil
}

// ExecuteWithLLM asks the provider to choose a tool and arguments for the
// task, then executes the call. forcedTool, when non-empty, restricts the
// choice to that tool name (without the mcp_ prefix). When the LLM answers
// in plain text instead of calling a tool, the text is returned as the
// outcome with no tool name set.
func (e *Executor) ExecuteWithLLM(ctx context.Context, provider llm.Provider, serverID, task, forcedTool string) (*Outcome, error) {
	defs, err := e.ToolDefinitions(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("list tools for %q: %w", serverID, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("server %q exposes no tools", serverID)
	}

	req := &llm.ChatRequest{
		Messages: []llm.ChatMessage{{Role: models.RoleUser, Content: task}},
		Tools:    defs,
	}
	if forcedTool != "" {
		req.ToolChoice = FunctionName(serverID, forcedTool)
	}

	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tool selection via %s: %w", provider.Name(), err)
	}

	if len(resp.ToolCalls) == 0 {
		return &Outcome{Text: resp.Content, ServerID: serverID}, nil
	}

	call := resp.ToolCalls[0]
	_, toolName, err := SplitFunctionName(call.Name, []string{serverID})
	if err != nil {
		// The model invented a tool name; surface it as a parameter error so
		// the caller can run a repair round.
		return &Outcome{
			Text:      fmt.Sprintf("unknown tool %q on server %q", call.Name, serverID),
			ServerID:  serverID,
			IsError:   true,
			ErrorType: ErrTypeParameter,
		}, nil
	}

	args, perr := ParseActionInput(call.Arguments)
	if perr != nil {
		return &Outcome{
			Text:      fmt.Sprintf("failed to parse tool arguments: %s", perr),
			ServerID:  serverID,
			ToolName:  toolName,
			IsError:   true,
			ErrorType: ErrTypeParameter,
		}, nil
	}

	return e.Execute(ctx, serverID, toolName, args)
}

// Execute runs a single tool call directly. Tool failures are reported on
// the Outcome, not as a Go error: the Go error is reserved for transport
// and session problems.
func (e *Executor) Execute(ctx context.Context, serverID, toolName string, args map[string]any) (*Outcome, error) {
	out := &Outcome{ServerID: serverID, ToolName: toolName, Arguments: args}

	result, err := e.client.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		out.Text = fmt.Sprintf("MCP tool execution failed: %s", err)
		out.IsError = true
		out.ErrorType = e.classify(err.Error())
		return out, nil
	}

	text, media := extractContent(result)
	out.Text = TruncateForStorage(text)
	out.Media = media
	if result.IsError {
		out.IsError = true
		out.ErrorType = e.classify(text)
	}
	return out, nil
}

// classify maps an error message to a parameter or execution error type.
func (e *Executor) classify(msg string) string {
	if IsParameterError(msg, e.paramErrorKeywords) {
		return ErrTypeParameter
	}
	return ErrTypeExecution
}

// extractContent pulls text and media out of an MCP tool result.
// Text items are joined with newlines; image and audio items become media
// with base64-encoded data.
func extractContent(result *mcpsdk.CallToolResult) (string, []models.MediaItem) {
	var parts []string
	var media []models.MediaItem
	for _, c := range result.Content {
		switch tc := c.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, tc.Text)
		case *mcpsdk.ImageContent:
			media = append(media, models.MediaItem{
				Type:     models.MediaImage,
				MimeType: tc.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(tc.Data),
			})
		case *mcpsdk.AudioContent:
			media = append(media, models.MediaItem{
				Type:     models.MediaAudio,
				MimeType: tc.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(tc.Data),
			})
		default:
			slog.Debug("MCP tool returned unsupported content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n"), media
}

// schemaToMap converts a tool's input schema to the loose map shape the LLM
// layer expects.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
