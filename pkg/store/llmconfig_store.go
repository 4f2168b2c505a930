package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agora-ai/agora/pkg/models"
)

// ErrLLMConfigNotFound is returned when no matching config exists.
var ErrLLMConfigNotFound = errors.New("llm config not found")

// LLMConfigStore reads provider configuration rows. Rows are read-only
// within a message-processing pass.
type LLMConfigStore struct {
	db *sql.DB
}

// NewLLMConfigStore creates an LLMConfigStore.
func NewLLMConfigStore(c *Client) *LLMConfigStore { return &LLMConfigStore{db: c.DB()} }

// FindByID returns the config with the given id.
func (s *LLMConfigStore) FindByID(ctx context.Context, configID string) (*models.LLMConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT config_id, provider, api_url, api_key, model, enabled FROM llm_configs WHERE config_id = $1`,
		configID,
	)
	return scanLLMConfig(row)
}

// FindByModel returns an enabled config whose model matches exactly.
// Used for user model-name overrides in 1:1 agent sessions.
func (s *LLMConfigStore) FindByModel(ctx context.Context, model string) (*models.LLMConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT config_id, provider, api_url, api_key, model, enabled
		 FROM llm_configs WHERE model = $1 AND enabled LIMIT 1`,
		model,
	)
	return scanLLMConfig(row)
}

func scanLLMConfig(row *sql.Row) (*models.LLMConfig, error) {
	var cfg models.LLMConfig
	err := row.Scan(&cfg.ConfigID, &cfg.Provider, &cfg.APIURL, &cfg.APIKey, &cfg.Model, &cfg.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLLMConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get llm config: %w", err)
	}
	return &cfg, nil
}
