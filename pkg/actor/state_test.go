package actor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/pkg/models"
)

func entry(id string, role models.Role, content string) HistoryEntry {
	return HistoryEntry{MessageID: id, Role: role, SenderID: "s", Content: content, CreatedAt: time.Now()}
}

func TestMarkProcessed(t *testing.T) {
	st := NewState("a1", "t1")
	assert.True(t, st.MarkProcessed("m1"))
	assert.False(t, st.MarkProcessed("m1"))
	assert.True(t, st.MarkProcessed("m2"))
}

func TestProcessedOverflowKeepsNewest(t *testing.T) {
	st := NewState("a1", "t1")
	for i := 0; i <= maxProcessedIDs; i++ {
		st.MarkProcessed(fmt.Sprintf("m-%d", i))
	}
	// The oldest half was evicted, so an old id registers as new again.
	assert.True(t, st.MarkProcessed("m-0"))
	// The newest ids survived eviction.
	assert.False(t, st.MarkProcessed(fmt.Sprintf("m-%d", maxProcessedIDs)))
}

func TestHistoryBounded(t *testing.T) {
	st := NewState("a1", "t1")
	for i := 0; i < DefaultHistoryLimit+20; i++ {
		st.Append(entry(fmt.Sprintf("m-%d", i), models.RoleUser, "x"), nil)
	}
	h := st.History()
	assert.Len(t, h, DefaultHistoryLimit)
	assert.Equal(t, "m-20", h[0].MessageID)
}

func TestClearAfter(t *testing.T) {
	st := NewState("a1", "t1")
	for i := 0; i < 5; i++ {
		st.Append(entry(fmt.Sprintf("m-%d", i), models.RoleUser, "x"), nil)
	}

	t.Run("summary survives when still covered", func(t *testing.T) {
		st.SetSummary("摘要", "m-1")
		st.ClearAfter("m-3")
		h := st.History()
		assert.Len(t, h, 4)
		summary, until := st.Summary()
		assert.Equal(t, "摘要", summary)
		assert.Equal(t, "m-1", until)
	})

	t.Run("summary cleared when its anchor is gone", func(t *testing.T) {
		st.SetSummary("摘要", "m-3")
		st.ClearAfter("m-1")
		summary, until := st.Summary()
		assert.Empty(t, summary)
		assert.Empty(t, until)
	})
}

func TestGetRecentHistoryBudgets(t *testing.T) {
	st := NewState("a1", "t1")
	for i := 0; i < 20; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		st.Append(entry(fmt.Sprintf("m-%d", i), role, strings.Repeat("字", 300)), nil)
	}
	st.Append(entry("sys", models.RoleSystem, "system noise"), nil)
	st.Append(entry("tool", models.RoleTool, "tool noise"), nil)

	msgs := st.GetRecentHistory(10, 1000, 200, false, "")
	assert.LessOrEqual(t, len(msgs), 10)

	total := 0
	for _, m := range msgs {
		n := len([]rune(m.Content))
		assert.LessOrEqual(t, n, 200)
		total += n
		assert.Contains(t, []models.Role{models.RoleUser, models.RoleAssistant}, m.Role)
	}
	assert.LessOrEqual(t, total, 1000)
}

func TestGetRecentHistoryExcludesAndSummarises(t *testing.T) {
	st := NewState("a1", "t1")
	st.Append(entry("m-1", models.RoleUser, "第一条"), nil)
	st.Append(entry("m-2", models.RoleUser, "第二条"), nil)
	st.SetSummary("之前聊了旅行", "m-1")

	msgs := st.GetRecentHistory(10, 1000, 200, true, "m-2")
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, SummaryPrefix+"之前聊了旅行", msgs[0].Content)
	assert.Equal(t, "第一条", msgs[1].Content)
}

func TestStripPromptNoise(t *testing.T) {
	in := "看看这个\n[MCP:search]\nraw tool dump\n【工具执行结果】\n![img](data:image/png;base64,AAAA)\n结论是好的"
	out := stripPromptNoise(in)
	assert.NotContains(t, out, "[MCP:")
	assert.NotContains(t, out, "工具执行结果")
	assert.NotContains(t, out, "base64")
	assert.Contains(t, out, "[图片]")
	assert.Contains(t, out, "结论是好的")
}

func TestShouldAttachLastMedia(t *testing.T) {
	assert.True(t, ShouldAttachLastMedia("上图里有什么？"))
	assert.True(t, ShouldAttachLastMedia("描述一下这张图"))
	assert.True(t, ShouldAttachLastMedia("what is in the screenshot?"))
	assert.False(t, ShouldAttachLastMedia("今天天气如何"))
}

func TestMaxTokensForModel(t *testing.T) {
	assert.Equal(t, 8192, MaxTokensForModel("gpt-4"))
	assert.Equal(t, 128000, MaxTokensForModel("gpt-4o-mini"))
	assert.Equal(t, 200000, MaxTokensForModel("claude-sonnet-4-20250514"))
	assert.Equal(t, 1048576, MaxTokensForModel("gemini-2.5-pro"))
	assert.Equal(t, DefaultModelMaxTokens, MaxTokensForModel("unknown-model"))
}

func TestCheckMemoryBudget(t *testing.T) {
	st := NewState("a1", "t1")
	assert.False(t, st.CheckMemoryBudget("gpt-4", 0.8))
	for i := 0; i < 60; i++ {
		st.Append(entry(fmt.Sprintf("m-%d", i), models.RoleUser, strings.Repeat("旅行计划讨论", 100)), nil)
	}
	assert.True(t, st.CheckMemoryBudget("gpt-4", 0.8))
	// A much larger window absorbs the same history.
	assert.False(t, st.CheckMemoryBudget("gemini-2.5-pro", 0.8))
}

func TestLoadHistorySamplesMedia(t *testing.T) {
	src := newFakeTopics(models.SessionPrivateChat)
	now := time.Now()
	for i := 0; i < 7; i++ {
		m := &models.Message{
			MessageID: fmt.Sprintf("m-%d", i), TopicID: "t1", SenderID: "u1",
			Role: models.RoleUser, Content: fmt.Sprintf("msg %d", i), CreatedAt: now,
		}
		if i == 4 {
			m.Ext = map[string]any{"media": []any{
				map[string]any{"type": "image", "mimeType": "image/png", "data": "aGVsbG8="},
			}}
		}
		src.messages = append(src.messages, m)
	}

	st := NewState("a1", "t1")
	require.NoError(t, st.LoadHistory(context.Background(), src, 5))

	h := st.History()
	require.Len(t, h, 5)
	assert.Equal(t, "m-2", h[0].MessageID)
	assert.Equal(t, "m-6", h[4].MessageID)

	media := st.LastMedia()
	require.Len(t, media, 1)
	assert.Equal(t, "aGVsbG8=", media[0].Data)

	// Loaded ids are pre-marked so redelivery is dropped.
	assert.False(t, st.MarkProcessed("m-5"))
}

func TestSummaryBlock(t *testing.T) {
	st := NewState("a1", "t1")
	for i := 0; i < 12; i++ {
		st.Append(entry(fmt.Sprintf("m-%d", i), models.RoleUser, "x"), nil)
	}

	block, until := st.SummaryBlock(5, 80)
	require.Len(t, block, 7)
	assert.Equal(t, "m-6", until)

	t.Run("too short for a block", func(t *testing.T) {
		small := NewState("a1", "t1")
		small.Append(entry("m-0", models.RoleUser, "x"), nil)
		block, until := small.SummaryBlock(5, 80)
		assert.Nil(t, block)
		assert.Empty(t, until)
	})
}
