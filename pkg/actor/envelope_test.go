package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/pkg/models"
)

func TestNormalizeMedia(t *testing.T) {
	t.Run("data url is split into mime and payload", func(t *testing.T) {
		out := NormalizeMedia([]any{
			map[string]any{"data": "data:image/png;base64,aGVs bG8=\n"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, models.MediaImage, out[0].Type)
		assert.Equal(t, "image/png", out[0].MimeType)
		assert.Equal(t, "aGVsbG8=", out[0].Data)
	})

	t.Run("snake case mime key accepted", func(t *testing.T) {
		out := NormalizeMedia([]any{
			map[string]any{"mime_type": "video/mp4", "url": "https://cdn/x.mp4"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, models.MediaVideo, out[0].Type)
	})

	t.Run("items without data or url dropped", func(t *testing.T) {
		out := NormalizeMedia([]any{
			map[string]any{"type": "image"},
			map[string]any{"type": "image", "url": "https://cdn/a.png"},
		})
		assert.Len(t, out, 1)
	})

	t.Run("thought signature passes through verbatim", func(t *testing.T) {
		sig := "opaque-SIG==/with+chars"
		out := NormalizeMedia([]any{
			map[string]any{"data": "aGk=", "mimeType": "image/png", "thoughtSignature": sig},
		})
		require.Len(t, out, 1)
		assert.Equal(t, sig, out[0].ThoughtSignature)
	})

	t.Run("idempotent", func(t *testing.T) {
		in := []any{
			map[string]any{"data": "data:image/jpeg;base64,q80="},
			map[string]any{"url": "https://cdn/b.png", "thoughtSignature": "s"},
		}
		once := NormalizeMedia(in)
		twice := NormalizeMedia(once)
		assert.Equal(t, once, twice)
	})

	t.Run("typed items and nil input", func(t *testing.T) {
		assert.Nil(t, NormalizeMedia(nil))
		out := NormalizeMedia([]models.MediaItem{
			{Type: models.MediaImage, MimeType: "image/png", Data: "aGk="},
		})
		require.Len(t, out, 1)
		assert.Equal(t, "aGk=", out[0].Data)
	})
}

func TestBuildReplyExt(t *testing.T) {
	ictx := NewIterationContext(&models.Message{MessageID: "m1", Content: "hi"})
	step := ictx.AddStep(StepMCPSelection, "调用搜索", "")
	step.MCP = &MCPStepDetail{Server: "search", ToolName: "web_search"}
	ictx.CompleteStep(step, StepStatusCompleted, "")
	ictx.AddLog("a1", "助手", "tool", "search done", nil)
	ictx.MCPResults = []MCPResult{{ServerID: "search", ToolName: "web_search", Status: "completed"}}
	ictx.ActionChainID = "c1"

	media := []models.MediaItem{{Type: models.MediaImage, MimeType: "image/png", Data: "aGk="}}
	ext := buildReplyExt(ictx, media)

	assert.Contains(t, ext, "agent_log")
	assert.Contains(t, ext, "agent_mind")
	assert.Contains(t, ext, "agent_ext_content")
	assert.Contains(t, ext, "processMessages")
	assert.Contains(t, ext, "log")
	assert.Equal(t, media, ext["media"])
	assert.Equal(t, "c1", ext["action_chain_id"])

	mind := ext["agent_mind"].(map[string]any)
	nodes := mind["nodes"].([]map[string]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, StepMCPSelection, nodes[0]["type"])
	assert.Equal(t, step.MCP, nodes[0]["mcp"])

	content := ext["agent_ext_content"].(map[string]any)
	assert.Equal(t, media, content["media"])
	require.Len(t, content["mcpResults"].([]MCPResult), 1)
}
