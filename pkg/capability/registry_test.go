package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSkillByKeyword(t *testing.T) {
	r := NewRegistry()
	r.RegisterSkill(&SkillCapability{
		SkillID: "poster", Name: "海报制作",
		TriggerKeywords: []string{"海报", "poster"},
	})
	r.RegisterSkill(&SkillCapability{
		SkillID: "report", Name: "周报",
		TriggerKeywords: []string{"周报"},
	})

	s := r.FindSkillByKeyword("帮我做一张海报")
	require.NotNil(t, s)
	assert.Equal(t, "poster", s.SkillID)

	// Keyword match is case-insensitive.
	s = r.FindSkillByKeyword("Make me a POSTER")
	require.NotNil(t, s)
	assert.Equal(t, "poster", s.SkillID)

	assert.Nil(t, r.FindSkillByKeyword("随便聊聊"))

	// Empty trigger keywords never match.
	r.RegisterSkill(&SkillCapability{SkillID: "broken", Name: "x", TriggerKeywords: []string{""}})
	assert.Nil(t, r.FindSkillByKeyword("没有触发词"))
}

func TestCapabilityDescription(t *testing.T) {
	r := NewRegistry()
	r.RegisterMCP(&MCPCapability{ServerID: "search", Name: "搜索", Enabled: true})
	r.SetMCPTools("search", []MCPToolSchema{
		{Name: "t1"}, {Name: "t2"}, {Name: "t3"}, {Name: "t4"},
		{Name: "t5"}, {Name: "t6"}, {Name: "t7"},
	})
	r.RegisterSkill(&SkillCapability{SkillID: "poster", Name: "海报制作", Description: "生成宣传海报"})
	r.RegisterTool(&ToolCapability{ToolName: "remember", Description: "记住一条信息"})

	desc := r.GetCapabilityDescription()
	assert.Contains(t, desc, "## Available MCP tool services")
	assert.Contains(t, desc, "- 搜索: [tools: t1, t2, t3, t4, t5 and 2 more]")
	assert.Contains(t, desc, "- 海报制作: 生成宣传海报")
	assert.Contains(t, desc, "- remember: 记住一条信息")

	// Cached until the catalogue changes.
	assert.Equal(t, desc, r.GetCapabilityDescription())
	r.RegisterTool(&ToolCapability{ToolName: "forget", Description: "忘掉一条信息"})
	assert.Contains(t, r.GetCapabilityDescription(), "- forget")

	// Disabled servers stay out of the description.
	r.RegisterMCP(&MCPCapability{ServerID: "off", Name: "停用服务", Enabled: false})
	assert.NotContains(t, r.GetCapabilityDescription(), "停用服务")
}

func TestGetToolsForLLM(t *testing.T) {
	r := NewRegistry()
	r.RegisterMCP(&MCPCapability{ServerID: "search", Name: "搜索", Enabled: true})
	r.SetMCPTools("search", []MCPToolSchema{
		{Name: "web_search", Description: "联网搜索", InputSchema: map[string]any{"type": "object"}},
	})
	r.RegisterMCP(&MCPCapability{ServerID: "off", Name: "停用", Enabled: false})
	r.SetMCPTools("off", []MCPToolSchema{{Name: "hidden"}})
	r.RegisterTool(&ToolCapability{ToolName: "remember", Parameters: map[string]any{"type": "object"}})

	specs := r.GetToolsForLLM()
	require.Len(t, specs, 2)
	assert.Equal(t, "mcp_search_web_search", specs[0].Name)
	assert.Equal(t, "联网搜索", specs[0].Description)
	assert.Equal(t, "remember", specs[1].Name)
}

func TestBuiltinToolExecute(t *testing.T) {
	r := NewRegistry()
	var got map[string]any
	r.RegisterTool(&ToolCapability{
		ToolName:    "remember",
		Description: "记住一条信息",
		Parameters:  map[string]any{"type": "object"},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			got = args
			return "已记住", nil
		},
	})

	tool, ok := r.GetTool("remember")
	require.True(t, ok)
	out, err := tool.Execute(context.Background(), map[string]any{"fact": "生日是周五"})
	require.NoError(t, err)
	assert.Equal(t, "已记住", out)
	assert.Equal(t, "生日是周五", got["fact"])

	_, ok = r.GetTool("missing")
	assert.False(t, ok)
}

func TestLoadFromTopicMCPs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadFromTopicMCPs([]map[string]any{
		{"id": "search", "name": "搜索", "url": "http://localhost:9000/mcp"},
		{"id": "image_gen"},
	}))
	assert.ElementsMatch(t, []string{"search", "image_gen"}, r.MCPServerIDs())

	c, ok := r.GetMCP("search")
	require.True(t, ok)
	assert.Equal(t, "搜索", c.Name)
	assert.Equal(t, "http://localhost:9000/mcp", c.URL)

	// An entry without an id aborts loading.
	require.Error(t, r.LoadFromTopicMCPs([]map[string]any{{"url": "http://x"}}))
}

func TestSetMCPToolsUnknownServer(t *testing.T) {
	r := NewRegistry()
	r.SetMCPTools("ghost", []MCPToolSchema{{Name: "t"}})
	assert.Empty(t, r.GetToolsForLLM())
}
