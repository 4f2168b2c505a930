package mcp

import (
	"fmt"
	"sync"
)

// TransportType selects how a server is reached.
type TransportType string

// Supported transport types.
const (
	TransportTypeStdio TransportType = "stdio"
	TransportTypeHTTP  TransportType = "http"
	TransportTypeSSE   TransportType = "sse"
)

// TransportConfig describes the connection to one MCP server.
type TransportConfig struct {
	Type TransportType `json:"type"`

	// Stdio
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// HTTP / SSE
	URL         string `json:"url,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
	Timeout     int    `json:"timeout,omitempty"` // seconds
	VerifySSL   *bool  `json:"verify_ssl,omitempty"`
}

// ServerConfig is one MCP server entry as declared on an agent or topic.
type ServerConfig struct {
	ServerID  string          `json:"server_id"`
	Name      string          `json:"name"`
	Enabled   bool            `json:"enabled"`
	Transport TransportConfig `json:"transport"`
}

// ServerRegistry maps server ids to their connection configuration.
// Entries accumulate as agents are activated; re-registering an id replaces
// the previous entry.
type ServerRegistry struct {
	mu      sync.RWMutex
	servers map[string]*ServerConfig
}

// NewServerRegistry creates an empty registry.
func NewServerRegistry() *ServerRegistry {
	return &ServerRegistry{servers: make(map[string]*ServerConfig)}
}

// Register adds or replaces a server entry.
func (r *ServerRegistry) Register(cfg *ServerConfig) error {
	if cfg.ServerID == "" {
		return fmt.Errorf("mcp server config missing server_id")
	}
	if cfg.Transport.Type == "" {
		// URL-only entries default to streamable HTTP.
		if cfg.Transport.URL == "" {
			return fmt.Errorf("mcp server %q: transport type or url required", cfg.ServerID)
		}
		cfg.Transport.Type = TransportTypeHTTP
	}
	r.mu.Lock()
	r.servers[cfg.ServerID] = cfg
	r.mu.Unlock()
	return nil
}

// RegisterFromDict registers a server from the loose map shape stored in
// agent ext["mcpServers"].
func (r *ServerRegistry) RegisterFromDict(d map[string]any) error {
	id, _ := d["id"].(string)
	if id == "" {
		id, _ = d["server_id"].(string)
	}
	if id == "" {
		return fmt.Errorf("mcp server entry missing id")
	}
	name, _ := d["name"].(string)
	if name == "" {
		name = id
	}
	enabled := true
	if v, ok := d["enabled"].(bool); ok {
		enabled = v
	}

	cfg := &ServerConfig{ServerID: id, Name: name, Enabled: enabled}
	if url, _ := d["url"].(string); url != "" {
		cfg.Transport.URL = url
	}
	if tt, _ := d["transport"].(string); tt != "" {
		cfg.Transport.Type = TransportType(tt)
	}
	if cmd, _ := d["command"].(string); cmd != "" {
		cfg.Transport.Type = TransportTypeStdio
		cfg.Transport.Command = cmd
		if args, ok := d["args"].([]any); ok {
			for _, a := range args {
				if s, ok := a.(string); ok {
					cfg.Transport.Args = append(cfg.Transport.Args, s)
				}
			}
		}
	}
	if token, _ := d["bearerToken"].(string); token != "" {
		cfg.Transport.BearerToken = token
	}
	return r.Register(cfg)
}

// Get returns the configuration for a server id.
func (r *ServerRegistry) Get(serverID string) (*ServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("mcp server %q is not registered", serverID)
	}
	return cfg, nil
}

// ServerIDs returns all enabled server ids.
func (r *ServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.servers))
	for id, cfg := range r.servers {
		if cfg.Enabled {
			out = append(out, id)
		}
	}
	return out
}
