// Package capability maintains the per-agent catalogue of MCP servers,
// skill packs, and built-in tools, and renders it for LLM consumption.
//
// A Registry is rebuilt on actor activation and never shared across actors,
// so no locking is needed beyond the description cache guard.
package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agora-ai/agora/pkg/models"
)

// MCPToolSchema describes one tool exposed by an MCP server.
type MCPToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// MCPCapability is one registered MCP server with its tool schemas.
type MCPCapability struct {
	ServerID string          `json:"server_id"`
	Name     string          `json:"name"`
	URL      string          `json:"url,omitempty"`
	Enabled  bool            `json:"enabled"`
	Tools    []MCPToolSchema `json:"tools,omitempty"`
}

// SkillCapability is a named, reusable sequence of steps with trigger
// keywords, assigned to agents.
type SkillCapability struct {
	SkillID         string   `json:"skill_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	TriggerKeywords []string `json:"trigger_keywords,omitempty"`
	Steps           []string `json:"steps,omitempty"`
	RequiredMCPs    []string `json:"required_mcps,omitempty"`
}

// ToolFunc executes a built-in tool with JSON-shaped arguments.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// ToolCapability is a built-in tool exposed directly to the LLM.
type ToolCapability struct {
	ToolName    string
	Description string
	Parameters  map[string]any // JSON Schema
	Execute     ToolFunc
}

// ToolSpec is the OpenAI-function-calling shape handed to the LLM layer.
// MCP tools are namespaced "mcp_<server_id>_<tool_name>"; built-in tools
// keep their own names.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Registry holds the three parallel catalogues.
type Registry struct {
	mcps   map[string]*MCPCapability
	skills map[string]*SkillCapability
	tools  map[string]*ToolCapability

	// Registration order, for stable description output.
	mcpOrder   []string
	skillOrder []string
	toolOrder  []string

	descMu    sync.Mutex
	descCache string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		mcps:   make(map[string]*MCPCapability),
		skills: make(map[string]*SkillCapability),
		tools:  make(map[string]*ToolCapability),
	}
}

// RegisterMCP adds or replaces an MCP server entry.
func (r *Registry) RegisterMCP(cap *MCPCapability) {
	if _, exists := r.mcps[cap.ServerID]; !exists {
		r.mcpOrder = append(r.mcpOrder, cap.ServerID)
	}
	r.mcps[cap.ServerID] = cap
	r.invalidate()
}

// RegisterMCPFromDict registers an MCP server from a loose config map
// (the shape stored in agent ext["mcpServers"]).
func (r *Registry) RegisterMCPFromDict(d map[string]any) error {
	serverID, _ := d["id"].(string)
	if serverID == "" {
		serverID, _ = d["server_id"].(string)
	}
	if serverID == "" {
		return fmt.Errorf("mcp server entry missing id")
	}
	name, _ := d["name"].(string)
	if name == "" {
		name = serverID
	}
	url, _ := d["url"].(string)
	enabled := true
	if v, ok := d["enabled"].(bool); ok {
		enabled = v
	}
	r.RegisterMCP(&MCPCapability{ServerID: serverID, Name: name, URL: url, Enabled: enabled})
	return nil
}

// SetMCPTools attaches discovered tool schemas to a registered server.
func (r *Registry) SetMCPTools(serverID string, tools []MCPToolSchema) {
	if cap, ok := r.mcps[serverID]; ok {
		cap.Tools = tools
		r.invalidate()
	}
}

// RegisterSkill adds or replaces a skill pack.
func (r *Registry) RegisterSkill(s *SkillCapability) {
	if _, exists := r.skills[s.SkillID]; !exists {
		r.skillOrder = append(r.skillOrder, s.SkillID)
	}
	r.skills[s.SkillID] = s
	r.invalidate()
}

// RegisterTool adds or replaces a built-in tool.
func (r *Registry) RegisterTool(t *ToolCapability) {
	if _, exists := r.tools[t.ToolName]; !exists {
		r.toolOrder = append(r.toolOrder, t.ToolName)
	}
	r.tools[t.ToolName] = t
	r.invalidate()
}

// GetMCP returns a registered MCP server by id.
func (r *Registry) GetMCP(serverID string) (*MCPCapability, bool) {
	c, ok := r.mcps[serverID]
	return c, ok
}

// GetTool returns a built-in tool by name.
func (r *Registry) GetTool(name string) (*ToolCapability, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// MCPServerIDs returns the ids of enabled MCP servers in registration order.
func (r *Registry) MCPServerIDs() []string {
	out := make([]string, 0, len(r.mcpOrder))
	for _, id := range r.mcpOrder {
		if r.mcps[id].Enabled {
			out = append(out, id)
		}
	}
	return out
}

// Skills returns all registered skills in registration order.
func (r *Registry) Skills() []*SkillCapability {
	out := make([]*SkillCapability, 0, len(r.skillOrder))
	for _, id := range r.skillOrder {
		out = append(out, r.skills[id])
	}
	return out
}

// FindSkillByKeyword returns the first skill whose trigger keywords appear
// in the text (case-insensitive substring match).
func (r *Registry) FindSkillByKeyword(text string) *SkillCapability {
	lower := strings.ToLower(text)
	for _, id := range r.skillOrder {
		s := r.skills[id]
		for _, kw := range s.TriggerKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return s
			}
		}
	}
	return nil
}

// GetToolsForLLM emits all capabilities in the OpenAI function-calling
// shape: MCP tools namespaced by server, built-in tools named directly.
func (r *Registry) GetToolsForLLM() []ToolSpec {
	var out []ToolSpec
	for _, serverID := range r.mcpOrder {
		mcp := r.mcps[serverID]
		if !mcp.Enabled {
			continue
		}
		for _, t := range mcp.Tools {
			out = append(out, ToolSpec{
				Name:        fmt.Sprintf("mcp_%s_%s", serverID, t.Name),
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
	}
	for _, name := range r.toolOrder {
		t := r.tools[name]
		out = append(out, ToolSpec{Name: t.ToolName, Description: t.Description, Parameters: t.Parameters})
	}
	return out
}

// maxToolsListed bounds how many tool names appear per server in the
// capability description before collapsing to "and N more".
const maxToolsListed = 5

// GetCapabilityDescription returns the cached multi-section description
// used as a system-prompt fragment. The cache is invalidated by every
// register call.
func (r *Registry) GetCapabilityDescription() string {
	r.descMu.Lock()
	defer r.descMu.Unlock()
	if r.descCache != "" {
		return r.descCache
	}

	var b strings.Builder
	if len(r.mcpOrder) > 0 {
		b.WriteString("## Available MCP tool services\n")
		for _, id := range r.mcpOrder {
			mcp := r.mcps[id]
			if !mcp.Enabled {
				continue
			}
			b.WriteString("- " + mcp.Name)
			if len(mcp.Tools) > 0 {
				names := make([]string, 0, len(mcp.Tools))
				for _, t := range mcp.Tools {
					names = append(names, t.Name)
				}
				listed := names
				extra := 0
				if len(names) > maxToolsListed {
					listed = names[:maxToolsListed]
					extra = len(names) - maxToolsListed
				}
				b.WriteString(": [tools: " + strings.Join(listed, ", "))
				if extra > 0 {
					fmt.Fprintf(&b, " and %d more", extra)
				}
				b.WriteString("]")
			}
			b.WriteString("\n")
		}
	}
	if len(r.skillOrder) > 0 {
		b.WriteString("## Skill packs\n")
		for _, id := range r.skillOrder {
			s := r.skills[id]
			b.WriteString("- " + s.Name)
			if s.Description != "" {
				b.WriteString(": " + s.Description)
			}
			b.WriteString("\n")
		}
	}
	if len(r.toolOrder) > 0 {
		b.WriteString("## Built-in tools\n")
		for _, name := range r.toolOrder {
			t := r.tools[name]
			b.WriteString("- " + t.ToolName)
			if t.Description != "" {
				b.WriteString(": " + t.Description)
			}
			b.WriteString("\n")
		}
	}

	r.descCache = b.String()
	return r.descCache
}

// LoadFromAgentConfig bulk-registers the MCP servers declared in the agent's
// ext["mcpServers"] list.
func (r *Registry) LoadFromAgentConfig(cfg *models.AgentConfig) error {
	if cfg == nil || cfg.Ext == nil {
		return nil
	}
	servers, ok := cfg.Ext["mcpServers"].([]any)
	if !ok {
		return nil
	}
	for _, entry := range servers {
		d, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if err := r.RegisterMCPFromDict(d); err != nil {
			return fmt.Errorf("agent %s: %w", cfg.AgentID, err)
		}
	}
	return nil
}

// LoadFromTopicMCPs bulk-registers topic-scoped MCP server entries.
func (r *Registry) LoadFromTopicMCPs(entries []map[string]any) error {
	for _, d := range entries {
		if err := r.RegisterMCPFromDict(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) invalidate() {
	r.descMu.Lock()
	r.descCache = ""
	r.descMu.Unlock()
}
