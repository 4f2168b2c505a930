package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// configFileName is the single configuration file under the config dir.
const configFileName = "agora.yaml"

// Initialize loads, applies defaults to, and validates the configuration.
// This is the primary entry point for configuration loading.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"listen_addr", cfg.System.ListenAddr,
		"mcp_servers", cfg.Stats().MCPServers)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, configFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(configFileName, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(configFileName, err)
	}

	// Expand environment variables using {{.VAR}} template syntax.
	data = ExpandEnv(data)

	cfg := &Config{configDir: configDir}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewLoadError(configFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.System == nil {
		cfg.System = &SystemConfig{}
	}
	if cfg.System.ListenAddr == "" {
		cfg.System.ListenAddr = ":8080"
	}
	if cfg.System.HistoryLimit <= 0 {
		cfg.System.HistoryLimit = 100
	}
	if cfg.System.GracefulShutdownTimeout <= 0 {
		cfg.System.GracefulShutdownTimeout = 30 * time.Second
	}

	if cfg.Database == nil {
		cfg.Database = &DatabaseConfig{}
	}
	db := cfg.Database
	if db.Host == "" {
		db.Host = "localhost"
	}
	if db.Port == 0 {
		db.Port = 5432
	}
	if db.User == "" {
		db.User = "agora"
	}
	if db.Database == "" {
		db.Database = "agora"
	}
	if db.SSLMode == "" {
		db.SSLMode = "disable"
	}
	if db.MaxOpenConns <= 0 {
		db.MaxOpenConns = 25
	}
	if db.MaxIdleConns <= 0 {
		db.MaxIdleConns = 5
	}
	if db.ConnMaxLifetime <= 0 {
		db.ConnMaxLifetime = 30 * time.Minute
	}
	if db.ConnMaxIdleTime <= 0 {
		db.ConnMaxIdleTime = 5 * time.Minute
	}

	if cfg.Redis == nil {
		cfg.Redis = &RedisConfig{}
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if cfg.LLM == nil {
		cfg.LLM = &LLMSettings{}
	}
}
