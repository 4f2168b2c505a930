package llm

import (
	"fmt"
	"strings"

	"github.com/agora-ai/agora/pkg/models"
)

// New builds a Provider from a stored configuration row. Unknown provider
// names fall back to the OpenAI-compatible client, since most third-party
// gateways speak that protocol.
func New(cfg *models.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm config %s has no api key", cfg.ConfigID)
	}

	switch strings.ToLower(cfg.Provider) {
	case "anthropic", "claude":
		return newAnthropicProvider(cfg), nil
	case "gemini", "google":
		return newGeminiProvider(cfg)
	case "openai", "openai-compatible", "":
		return newOpenAIProvider(cfg), nil
	default:
		return newOpenAIProvider(cfg), nil
	}
}
