package config

import "fmt"

// validate checks the loaded configuration for structural problems that
// would only surface later as confusing runtime failures.
func validate(cfg *Config) error {
	if cfg.System.ListenAddr == "" {
		return NewValidationError("system", "", "listen_addr", ErrMissingRequiredField)
	}
	if cfg.Database.Host == "" {
		return NewValidationError("database", "", "host", ErrMissingRequiredField)
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return NewValidationError("database", "", "port",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Database.Port))
	}
	if cfg.Redis.Addr == "" {
		return NewValidationError("redis", "", "addr", ErrMissingRequiredField)
	}

	for id, sc := range cfg.MCPServers {
		if err := validateMCPServer(id, sc); err != nil {
			return err
		}
	}
	return nil
}

func validateMCPServer(id string, sc MCPServerConfig) error {
	t := sc.Transport
	switch t.Type {
	case "stdio":
		if t.Command == "" {
			return NewValidationError("mcp_server", id, "transport.command", ErrMissingRequiredField)
		}
	case "http", "sse":
		if t.URL == "" {
			return NewValidationError("mcp_server", id, "transport.url", ErrMissingRequiredField)
		}
	case "":
		// URL-only entries default to streamable HTTP at registration.
		if t.URL == "" && t.Command == "" {
			return NewValidationError("mcp_server", id, "transport",
				fmt.Errorf("%w: type, url, or command required", ErrMissingRequiredField))
		}
	default:
		return NewValidationError("mcp_server", id, "transport.type",
			fmt.Errorf("%w: %q (must be stdio, http, or sse)", ErrInvalidValue, t.Type))
	}
	return nil
}
