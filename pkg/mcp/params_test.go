package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionInput(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		got, err := ParseActionInput("")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("json object", func(t *testing.T) {
		got, err := ParseActionInput(`{"query": "golang", "limit": 5}`)
		require.NoError(t, err)
		assert.Equal(t, "golang", got["query"])
		assert.Equal(t, float64(5), got["limit"])
	})

	t.Run("json non-object wraps in input", func(t *testing.T) {
		got, err := ParseActionInput(`["a", "b"]`)
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, got["input"])
	})

	t.Run("key value pairs", func(t *testing.T) {
		got, err := ParseActionInput("query: golang, limit=5")
		require.NoError(t, err)
		assert.Equal(t, "golang", got["query"])
		assert.Equal(t, int64(5), got["limit"])
	})

	t.Run("value coercion", func(t *testing.T) {
		got, err := ParseActionInput("flag: true, ratio: 0.5, nothing: null")
		require.NoError(t, err)
		assert.Equal(t, true, got["flag"])
		assert.Equal(t, 0.5, got["ratio"])
		assert.Nil(t, got["nothing"])
	})

	t.Run("yaml with nested structure", func(t *testing.T) {
		got, err := ParseActionInput("filters:\n  - a\n  - b")
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, got["filters"])
	})

	t.Run("plain text falls back to input", func(t *testing.T) {
		got, err := ParseActionInput("look up the weather in Berlin")
		require.NoError(t, err)
		assert.Equal(t, "look up the weather in Berlin", got["input"])
	})
}

func TestIsParameterError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"missing required field: query", true},
		{"Invalid parameter value", true},
		{"缺少参数 query", true},
		{"字段验证失败", true},
		{"value must be positive", true},
		{"upstream returned 502", false},
		{"connection refused", false},
		{"", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, IsParameterError(c.msg, nil), "msg=%q", c.msg)
	}

	t.Run("custom keyword list overrides defaults", func(t *testing.T) {
		custom := []string{"quota"}
		assert.True(t, IsParameterError("quota exceeded", custom))
		assert.False(t, IsParameterError("missing required field", custom))
	})
}

func TestSplitFunctionName(t *testing.T) {
	t.Run("known server with underscores", func(t *testing.T) {
		server, tool, err := SplitFunctionName("mcp_image_gen_create_image", []string{"image_gen"})
		require.NoError(t, err)
		assert.Equal(t, "image_gen", server)
		assert.Equal(t, "create_image", tool)
	})

	t.Run("fallback to first underscore", func(t *testing.T) {
		server, tool, err := SplitFunctionName("mcp_search_web_search", nil)
		require.NoError(t, err)
		assert.Equal(t, "search", server)
		assert.Equal(t, "web_search", tool)
	})

	t.Run("dotted form accepted", func(t *testing.T) {
		server, tool, err := SplitFunctionName("search.web_search", nil)
		require.NoError(t, err)
		assert.Equal(t, "search", server)
		assert.Equal(t, "web_search", tool)
	})

	t.Run("non-mcp name rejected", func(t *testing.T) {
		_, _, err := SplitFunctionName("generate_image", nil)
		require.Error(t, err)
	})

	t.Run("round trip", func(t *testing.T) {
		name := FunctionName("image_gen", "create_image")
		server, tool, err := SplitFunctionName(name, []string{"image_gen"})
		require.NoError(t, err)
		assert.Equal(t, "image_gen", server)
		assert.Equal(t, "create_image", tool)
	})
}
