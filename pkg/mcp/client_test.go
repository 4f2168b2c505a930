package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// testMCPServer holds an in-memory MCP server and its transport pair.
type testMCPServer struct {
	server          *mcpsdk.Server
	clientTransport *mcpsdk.InMemoryTransport
	serverTransport *mcpsdk.InMemoryTransport
}

// startTestServer creates an in-memory MCP server with given tools.
func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *testMCPServer {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: name, Version: "test",
	}, nil)

	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	return &testMCPServer{
		server:          server,
		clientTransport: clientTransport,
		serverTransport: serverTransport,
	}
}

// wireSession connects a client to an in-memory transport and registers the session.
func wireSession(t *testing.T, client *Client, serverID string, transport *mcpsdk.InMemoryTransport) {
	t.Helper()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "agora-test", Version: "test",
	}, nil)
	session, err := sdkClient.Connect(context.Background(), transport, nil)
	require.NoError(t, err)

	client.InjectSession(serverID, sdkClient, session)
}

func echoTool(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

func TestClientListTools(t *testing.T) {
	ts := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"web_search": echoTool("results"),
		"news":       echoTool("headlines"),
	})

	client := newClient(NewServerRegistry())
	wireSession(t, client, "search", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })

	tools, err := client.ListTools(context.Background(), "search")
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	// Second call must hit the cache (same slice back).
	again, err := client.ListTools(context.Background(), "search")
	require.NoError(t, err)
	assert.Equal(t, tools, again)

	_, err = client.ListTools(context.Background(), "unknown")
	require.Error(t, err)
}

func TestClientCallTool(t *testing.T) {
	ts := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"web_search": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			var parsed map[string]any
			if err := json.Unmarshal(req.Params.Arguments, &parsed); err != nil {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "parse error"}},
					IsError: true,
				}, nil
			}
			q, _ := parsed["query"].(string)
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "results for " + q}},
			}, nil
		},
	})

	client := newClient(NewServerRegistry())
	wireSession(t, client, "search", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })

	result, err := client.CallTool(context.Background(), "search", "web_search",
		map[string]any{"query": "golang"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "results for golang", result.Content[0].(*mcpsdk.TextContent).Text)
}

func TestClientFailedServers(t *testing.T) {
	registry := NewServerRegistry()
	client := newClient(registry)
	t.Cleanup(func() { _ = client.Close() })

	// Unregistered server: recorded as failed, Initialize does not abort.
	err := client.Initialize(context.Background(), []string{"broken"})
	require.NoError(t, err)
	failed := client.FailedServers()
	assert.Contains(t, failed, "broken")
	assert.NotEmpty(t, failed["broken"])
	assert.False(t, client.HasSession("broken"))
}

func TestServerRegistry(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		r := NewServerRegistry()
		require.NoError(t, r.Register(&ServerConfig{
			ServerID: "search",
			Enabled:  true,
			Transport: TransportConfig{
				Type: TransportTypeHTTP,
				URL:  "http://localhost:9000/mcp",
			},
		}))

		cfg, err := r.Get("search")
		require.NoError(t, err)
		assert.Equal(t, TransportTypeHTTP, cfg.Transport.Type)
		assert.Equal(t, []string{"search"}, r.ServerIDs())
	})

	t.Run("url only defaults to http transport", func(t *testing.T) {
		r := NewServerRegistry()
		require.NoError(t, r.Register(&ServerConfig{
			ServerID:  "s1",
			Enabled:   true,
			Transport: TransportConfig{URL: "http://x/mcp"},
		}))
		cfg, err := r.Get("s1")
		require.NoError(t, err)
		assert.Equal(t, TransportTypeHTTP, cfg.Transport.Type)
	})

	t.Run("from dict", func(t *testing.T) {
		r := NewServerRegistry()
		require.NoError(t, r.RegisterFromDict(map[string]any{
			"id":   "img",
			"name": "Image Gen",
			"url":  "http://localhost:9001/mcp",
		}))
		cfg, err := r.Get("img")
		require.NoError(t, err)
		assert.Equal(t, "Image Gen", cfg.Name)
		assert.True(t, cfg.Enabled)
	})

	t.Run("disabled servers are hidden from ids", func(t *testing.T) {
		r := NewServerRegistry()
		require.NoError(t, r.RegisterFromDict(map[string]any{
			"id": "off", "url": "http://x/mcp", "enabled": false,
		}))
		assert.Empty(t, r.ServerIDs())
	})

	t.Run("missing id is rejected", func(t *testing.T) {
		r := NewServerRegistry()
		require.Error(t, r.RegisterFromDict(map[string]any{"url": "http://x"}))
	})
}
