// Package config loads and validates the server configuration from
// agora.yaml. Agent definitions and LLM provider credentials live in the
// database; this file only carries infrastructure settings: HTTP listener,
// PostgreSQL, Redis, globally available MCP servers, and tuning knobs.
package config

import (
	"time"

	"github.com/agora-ai/agora/pkg/mcp"
	"github.com/agora-ai/agora/pkg/store"
)

// Config is the umbrella configuration object returned by Initialize.
type Config struct {
	configDir string

	System     *SystemConfig              `yaml:"system"`
	Database   *DatabaseConfig            `yaml:"database"`
	Redis      *RedisConfig               `yaml:"redis"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	LLM        *LLMSettings               `yaml:"llm"`
}

// SystemConfig groups server-wide settings.
type SystemConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// HistoryLimit caps how many messages an actor loads on activation.
	HistoryLimit int `yaml:"history_limit"`

	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// StoreConfig converts to the persistence layer's connection config.
func (d *DatabaseConfig) StoreConfig() store.Config {
	return store.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// RedisConfig holds Redis connection settings for the event bus and the
// interrupt/chain stores.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MCPServerConfig is one globally available MCP server in agora.yaml.
// Agents can declare additional servers on their ext.
type MCPServerConfig struct {
	Name      string             `yaml:"name"`
	Enabled   *bool              `yaml:"enabled"` // default true
	Transport MCPTransportConfig `yaml:"transport"`
}

// MCPTransportConfig mirrors the MCP layer's transport settings in YAML.
type MCPTransportConfig struct {
	Type        string            `yaml:"type"` // stdio, http, sse
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	BearerToken string            `yaml:"bearer_token,omitempty"`
	Timeout     int               `yaml:"timeout,omitempty"` // seconds
}

// LLMSettings carries LLM-adjacent tuning knobs.
type LLMSettings struct {
	// ParamErrorKeywords extends the classifier that distinguishes
	// repairable parameter errors from execution errors. Empty uses the
	// built-in list.
	ParamErrorKeywords []string `yaml:"param_error_keywords"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats contains statistics about loaded configuration.
type Stats struct {
	MCPServers int
}

// Stats returns configuration statistics for logging.
func (c *Config) Stats() Stats {
	return Stats{MCPServers: len(c.MCPServers)}
}

// BuildMCPRegistry registers all configured MCP servers into a fresh
// registry. Per-agent servers accumulate into the same registry later,
// during actor activation.
func (c *Config) BuildMCPRegistry() (*mcp.ServerRegistry, error) {
	reg := mcp.NewServerRegistry()
	for id, sc := range c.MCPServers {
		enabled := true
		if sc.Enabled != nil {
			enabled = *sc.Enabled
		}
		name := sc.Name
		if name == "" {
			name = id
		}
		err := reg.Register(&mcp.ServerConfig{
			ServerID: id,
			Name:     name,
			Enabled:  enabled,
			Transport: mcp.TransportConfig{
				Type:        mcp.TransportType(sc.Transport.Type),
				Command:     sc.Transport.Command,
				Args:        sc.Transport.Args,
				Env:         sc.Transport.Env,
				URL:         sc.Transport.URL,
				BearerToken: sc.Transport.BearerToken,
				Timeout:     sc.Transport.Timeout,
			},
		})
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}
