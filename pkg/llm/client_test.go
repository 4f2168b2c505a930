package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/pkg/models"
)

func TestCollect(t *testing.T) {
	t.Run("assembles text thinking tools and usage", func(t *testing.T) {
		ch := make(chan Chunk, 8)
		ch <- &ThinkingChunk{Content: "considering "}
		ch <- &ThinkingChunk{Content: "options"}
		ch <- &TextChunk{Content: "Hello "}
		ch <- &TextChunk{Content: "world"}
		ch <- &ToolCallChunk{Call: ToolCall{ID: "t1", Name: "search", Arguments: `{"q":"go"}`}}
		ch <- &MediaChunk{Items: []models.MediaItem{{Type: models.MediaImage, MimeType: "image/png", Data: "aGk="}}}
		ch <- &UsageChunk{Usage: Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
		close(ch)

		var seen int
		resp, err := Collect(ch, func(Chunk) { seen++ })
		require.NoError(t, err)
		assert.Equal(t, "Hello world", resp.Content)
		assert.Equal(t, "considering options", resp.Thinking)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "search", resp.ToolCalls[0].Name)
		require.Len(t, resp.Media, 1)
		require.NotNil(t, resp.Usage)
		assert.Equal(t, 15, resp.Usage.TotalTokens)
		assert.Equal(t, 7, seen)
	})

	t.Run("error chunk aborts collection", func(t *testing.T) {
		ch := make(chan Chunk, 2)
		ch <- &TextChunk{Content: "partial"}
		ch <- &ErrorChunk{Message: "rate limited", Retryable: true}
		close(ch)

		_, err := Collect(ch, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
	})

	t.Run("nil callback is allowed", func(t *testing.T) {
		ch := make(chan Chunk, 1)
		ch <- &TextChunk{Content: "ok"}
		close(ch)

		resp, err := Collect(ch, nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
	})
}

func TestNew(t *testing.T) {
	base := func(provider string) *models.LLMConfig {
		return &models.LLMConfig{
			ConfigID: "cfg-1",
			Provider: provider,
			APIKey:   "test-key",
			Model:    "test-model",
			Enabled:  true,
		}
	}

	t.Run("openai", func(t *testing.T) {
		p, err := New(base("openai"))
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("anthropic aliases", func(t *testing.T) {
		for _, name := range []string{"anthropic", "claude", "Anthropic"} {
			p, err := New(base(name))
			require.NoError(t, err)
			assert.Equal(t, "anthropic", p.Name())
		}
	})

	t.Run("gemini aliases", func(t *testing.T) {
		for _, name := range []string{"gemini", "google"} {
			p, err := New(base(name))
			require.NoError(t, err)
			assert.Equal(t, "gemini", p.Name())
		}
	})

	t.Run("unknown provider falls back to openai compatible", func(t *testing.T) {
		p, err := New(base("some-gateway"))
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("missing api key is rejected", func(t *testing.T) {
		cfg := base("openai")
		cfg.APIKey = ""
		_, err := New(cfg)
		require.Error(t, err)
	})

	t.Run("nil config is rejected", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
	})
}

func TestToOpenAIMessage(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		msg := toOpenAIMessage(ChatMessage{Role: models.RoleUser, Content: "hi"})
		assert.Equal(t, "user", msg.Role)
		assert.Equal(t, "hi", msg.Content)
		assert.Empty(t, msg.MultiContent)
	})

	t.Run("tool result", func(t *testing.T) {
		msg := toOpenAIMessage(ChatMessage{Role: models.RoleTool, Content: "result", ToolCallID: "t1"})
		assert.Equal(t, "tool", msg.Role)
		assert.Equal(t, "t1", msg.ToolCallID)
		assert.Equal(t, "result", msg.Content)
	})

	t.Run("assistant tool calls", func(t *testing.T) {
		msg := toOpenAIMessage(ChatMessage{
			Role:      models.RoleAssistant,
			ToolCalls: []ToolCall{{ID: "t1", Name: "search", Arguments: `{}`}},
		})
		require.Len(t, msg.ToolCalls, 1)
		assert.Equal(t, "search", msg.ToolCalls[0].Function.Name)
	})

	t.Run("image media becomes data url part", func(t *testing.T) {
		msg := toOpenAIMessage(ChatMessage{
			Role:    models.RoleUser,
			Content: "what is this",
			Media: []models.MediaItem{
				{Type: models.MediaImage, MimeType: "image/png", Data: "aGk="},
				{Type: models.MediaAudio, MimeType: "audio/mp3", Data: "aGk="},
			},
		})
		require.Len(t, msg.MultiContent, 2) // text + one image; audio is skipped
		assert.Equal(t, "what is this", msg.MultiContent[0].Text)
		assert.Equal(t, "data:image/png;base64,aGk=", msg.MultiContent[1].ImageURL.URL)
	})

	t.Run("media item with url is passed through", func(t *testing.T) {
		msg := toOpenAIMessage(ChatMessage{
			Role:  models.RoleUser,
			Media: []models.MediaItem{{Type: models.MediaImage, URL: "https://example.com/a.png"}},
		})
		require.Len(t, msg.MultiContent, 1)
		assert.Equal(t, "https://example.com/a.png", msg.MultiContent[0].ImageURL.URL)
	})
}

func TestToAnthropicBlocks(t *testing.T) {
	t.Run("tool result goes on user role", func(t *testing.T) {
		blocks, role, err := toAnthropicBlocks(ChatMessage{Role: models.RoleTool, Content: "out", ToolCallID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, models.RoleUser, role)
		require.Len(t, blocks, 1)
	})

	t.Run("assistant text with tool calls", func(t *testing.T) {
		blocks, role, err := toAnthropicBlocks(ChatMessage{
			Role:      models.RoleAssistant,
			Content:   "let me look",
			ToolCalls: []ToolCall{{ID: "t1", Name: "search", Arguments: `{"q":1}`}},
		})
		require.NoError(t, err)
		assert.Equal(t, models.RoleAssistant, role)
		assert.Len(t, blocks, 2)
	})

	t.Run("malformed tool arguments degrade to empty input", func(t *testing.T) {
		blocks, _, err := toAnthropicBlocks(ChatMessage{
			Role:      models.RoleAssistant,
			ToolCalls: []ToolCall{{ID: "t1", Name: "search", Arguments: `not json`}},
		})
		require.NoError(t, err)
		assert.Len(t, blocks, 1)
	})
}

func TestToGeminiContent(t *testing.T) {
	t.Run("roles map to user and model", func(t *testing.T) {
		c, err := toGeminiContent(ChatMessage{Role: models.RoleAssistant, Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "model", string(c.Role))

		c, err = toGeminiContent(ChatMessage{Role: models.RoleUser, Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "user", string(c.Role))
	})

	t.Run("thought signature round trips", func(t *testing.T) {
		c, err := toGeminiContent(ChatMessage{
			Role: models.RoleUser,
			Media: []models.MediaItem{{
				Type:             models.MediaImage,
				MimeType:         "image/png",
				Data:             "aGVsbG8=",
				ThoughtSignature: "c2ln",
			}},
		})
		require.NoError(t, err)
		require.Len(t, c.Parts, 1)
		assert.Equal(t, []byte("sig"), c.Parts[0].ThoughtSignature)
		assert.Equal(t, []byte("hello"), c.Parts[0].InlineData.Data)
	})

	t.Run("invalid media data is an error", func(t *testing.T) {
		_, err := toGeminiContent(ChatMessage{
			Role:  models.RoleUser,
			Media: []models.MediaItem{{Type: models.MediaImage, Data: "%%%not-base64%%%"}},
		})
		require.Error(t, err)
	})

	t.Run("empty message yields nil content", func(t *testing.T) {
		c, err := toGeminiContent(ChatMessage{Role: models.RoleUser})
		require.NoError(t, err)
		assert.Nil(t, c)
	})
}
