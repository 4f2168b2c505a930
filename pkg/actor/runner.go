package actor

import (
	"context"
	"log/slog"

	"github.com/agora-ai/agora/pkg/capability"
	"github.com/agora-ai/agora/pkg/llm"
	"github.com/agora-ai/agora/pkg/mcp"
)

// ExecutorFactory adapts the MCP client factory to RunnerFactory: each
// activation gets its own connected client scoped to the agent's servers.
type ExecutorFactory struct {
	Clients *mcp.ClientFactory
	// Keywords overrides the parameter-error classifier; nil uses defaults.
	Keywords []string
}

// CreateRunner connects a client for the given servers and wraps it in an
// executor.
func (f *ExecutorFactory) CreateRunner(ctx context.Context, serverIDs []string) (MCPRunner, error) {
	client, err := f.Clients.CreateClient(ctx, serverIDs)
	if err != nil {
		return nil, err
	}
	return mcp.NewExecutor(client, f.Keywords), nil
}

// extMCPEntries extracts MCP server declarations from an ext envelope
// (agent config or topic), tolerating malformed entries.
func extMCPEntries(ext map[string]any) []map[string]any {
	raw, ok := ext["mcpServers"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if d, ok := v.(map[string]any); ok {
			out = append(out, d)
		}
	}
	return out
}

// syncMCPServers registers declared server transports, making them
// connectable through the client factory.
func syncMCPServers(reg *mcp.ServerRegistry, entries []map[string]any, logger *slog.Logger) {
	for _, d := range entries {
		if err := reg.RegisterFromDict(d); err != nil {
			logger.Warn("Skipping MCP server entry", "error", err)
		}
	}
}

// toolLister is the optional runner capability of enumerating a server's
// tools. *mcp.Executor implements it.
type toolLister interface {
	ToolDefinitions(ctx context.Context, serverID string) ([]llm.ToolDefinition, error)
}

// discoverTools attaches each connected server's tool schemas to the
// capability registry, so the catalogue and the LLM tool list reflect what
// is actually callable.
func (a *Actor) discoverTools(ctx context.Context, runner MCPRunner, reg *capability.Registry) {
	lister, ok := runner.(toolLister)
	if !ok {
		return
	}
	for _, serverID := range reg.MCPServerIDs() {
		defs, err := lister.ToolDefinitions(ctx, serverID)
		if err != nil {
			a.logger.Warn("Tool discovery failed", "server", serverID, "error", err)
			continue
		}
		schemas := make([]capability.MCPToolSchema, 0, len(defs))
		for _, d := range defs {
			name := d.Name
			if _, tool, err := mcp.SplitFunctionName(d.Name, []string{serverID}); err == nil {
				name = tool
			}
			schemas = append(schemas, capability.MCPToolSchema{
				Name:        name,
				Description: d.Description,
				InputSchema: d.Parameters,
			})
		}
		reg.SetMCPTools(serverID, schemas)
	}
}
