package mcp

import (
	"context"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/pkg/llm"
)

// scriptedProvider returns a canned response for ExecuteWithLLM tests.
type scriptedProvider struct {
	resp *llm.ChatResponse
	err  error

	lastReq *llm.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.lastReq = req
	return p.resp, p.err
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.Chunk, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Chunk, 1)
	ch <- &llm.TextChunk{Content: resp.Content}
	close(ch)
	return ch, nil
}

func newTestExecutor(t *testing.T, serverID string, tools map[string]mcpsdk.ToolHandler) *Executor {
	t.Helper()
	ts := startTestServer(t, serverID, tools)
	client := newClient(NewServerRegistry())
	wireSession(t, client, serverID, ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	return NewExecutor(client, nil)
}

func TestExecutorExecute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e := newTestExecutor(t, "search", map[string]mcpsdk.ToolHandler{
			"web_search": echoTool("ten blue links"),
		})
		out, err := e.Execute(context.Background(), "search", "web_search", map[string]any{})
		require.NoError(t, err)
		assert.False(t, out.IsError)
		assert.Equal(t, "ten blue links", out.Text)
		assert.Equal(t, "web_search", out.ToolName)
	})

	t.Run("tool error with validation message is a parameter error", func(t *testing.T) {
		e := newTestExecutor(t, "search", map[string]mcpsdk.ToolHandler{
			"web_search": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "missing required field: query"}},
					IsError: true,
				}, nil
			},
		})
		out, err := e.Execute(context.Background(), "search", "web_search", map[string]any{})
		require.NoError(t, err)
		assert.True(t, out.IsError)
		assert.Equal(t, ErrTypeParameter, out.ErrorType)
	})

	t.Run("other tool errors are execution errors", func(t *testing.T) {
		e := newTestExecutor(t, "search", map[string]mcpsdk.ToolHandler{
			"web_search": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "upstream 502"}},
					IsError: true,
				}, nil
			},
		})
		out, err := e.Execute(context.Background(), "search", "web_search", map[string]any{})
		require.NoError(t, err)
		assert.True(t, out.IsError)
		assert.Equal(t, ErrTypeExecution, out.ErrorType)
	})

	t.Run("image content becomes media", func(t *testing.T) {
		e := newTestExecutor(t, "imager", map[string]mcpsdk.ToolHandler{
			"generate": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{
						&mcpsdk.TextContent{Text: "here you go"},
						&mcpsdk.ImageContent{MIMEType: "image/png", Data: []byte("fakepng")},
					},
				}, nil
			},
		})
		out, err := e.Execute(context.Background(), "imager", "generate", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "here you go", out.Text)
		require.Len(t, out.Media, 1)
		assert.Equal(t, "image/png", out.Media[0].MimeType)
		assert.NotEmpty(t, out.Media[0].Data)
	})
}

func TestExecutorExecuteWithLLM(t *testing.T) {
	tools := map[string]mcpsdk.ToolHandler{
		"web_search": echoTool("search results"),
	}

	t.Run("llm picks a tool", func(t *testing.T) {
		e := newTestExecutor(t, "search", tools)
		p := &scriptedProvider{resp: &llm.ChatResponse{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "mcp_search_web_search", Arguments: `{"query":"go"}`}},
		}}

		out, err := e.ExecuteWithLLM(context.Background(), p, "search", "find go docs", "")
		require.NoError(t, err)
		assert.False(t, out.IsError)
		assert.Equal(t, "search results", out.Text)
		assert.Equal(t, "web_search", out.ToolName)

		// The provider was offered the server's namespaced tools.
		require.NotNil(t, p.lastReq)
		require.Len(t, p.lastReq.Tools, 1)
		assert.Equal(t, "mcp_search_web_search", p.lastReq.Tools[0].Name)
	})

	t.Run("plain text answer passes through", func(t *testing.T) {
		e := newTestExecutor(t, "search", tools)
		p := &scriptedProvider{resp: &llm.ChatResponse{Content: "no tool needed"}}

		out, err := e.ExecuteWithLLM(context.Background(), p, "search", "just answer", "")
		require.NoError(t, err)
		assert.Equal(t, "no tool needed", out.Text)
		assert.Empty(t, out.ToolName)
	})

	t.Run("forced tool sets tool choice", func(t *testing.T) {
		e := newTestExecutor(t, "search", tools)
		p := &scriptedProvider{resp: &llm.ChatResponse{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "mcp_search_web_search", Arguments: `{}`}},
		}}

		_, err := e.ExecuteWithLLM(context.Background(), p, "search", "search it", "web_search")
		require.NoError(t, err)
		assert.Equal(t, "mcp_search_web_search", p.lastReq.ToolChoice)
	})

	t.Run("hallucinated tool name is a parameter error", func(t *testing.T) {
		e := newTestExecutor(t, "search", tools)
		p := &scriptedProvider{resp: &llm.ChatResponse{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "totally_made_up", Arguments: `{}`}},
		}}

		out, err := e.ExecuteWithLLM(context.Background(), p, "search", "task", "")
		require.NoError(t, err)
		assert.True(t, out.IsError)
		assert.Equal(t, ErrTypeParameter, out.ErrorType)
	})
}
