package models

// LLMConfig is one provider configuration row. Agents reference a config by
// id; users may override per message in 1:1 agent sessions.
type LLMConfig struct {
	ConfigID string `json:"config_id"`
	Provider string `json:"provider"` // "openai", "anthropic", "gemini", or compatible
	APIURL   string `json:"api_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model"`
	Enabled  bool   `json:"enabled"`
}
