package mcp

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitor(t *testing.T) {
	ts := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"web_search": echoTool("results"),
	})

	registry := NewServerRegistry()
	require.NoError(t, registry.Register(&ServerConfig{
		ServerID: "search",
		Name:     "搜索",
		Enabled:  true,
		Transport: TransportConfig{
			Type: TransportTypeHTTP,
			URL:  "http://localhost:9000/mcp",
		},
	}))
	factory := NewTestClientFactory(registry, func(c *Client) {
		wireSession(t, c, "search", ts.clientTransport)
	})

	m := NewHealthMonitor(factory)
	m.checkInterval = 50 * time.Millisecond

	// No verdict before the first check.
	assert.False(t, m.IsHealthy())

	m.Start(context.Background())
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool {
		st, ok := m.GetStatuses()["search"]
		return ok && st.Healthy
	}, 2*time.Second, 10*time.Millisecond)

	st := m.GetStatuses()["search"]
	assert.Equal(t, 1, st.ToolCount)
	assert.Empty(t, st.Error)
	assert.False(t, st.LastCheck.IsZero())
	assert.True(t, m.IsHealthy())

	cached := m.GetCachedTools()
	require.Len(t, cached["search"], 1)
	assert.Equal(t, "web_search", cached["search"][0].Name)

	// Stop discards stale statuses so a later Start begins clean.
	m.Stop()
	assert.False(t, m.IsHealthy())
	assert.Empty(t, m.GetStatuses())
}
