package actor

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agora-ai/agora/pkg/llm"
	"github.com/agora-ai/agora/pkg/mcp"
	"github.com/agora-ai/agora/pkg/models"
)

// Defaults for the per-topic state buffers.
const (
	// DefaultHistoryLimit bounds the in-memory history buffer.
	DefaultHistoryLimit = 100
	// maxProcessedIDs caps the dedup set; on overflow the oldest half is
	// dropped so recently seen ids keep winning.
	maxProcessedIDs = 1000
	// historyPageSize is the store page size used while loading history.
	historyPageSize = 50
)

// SummaryPrefix heads the system message that injects the running summary
// into a prompt.
const SummaryPrefix = "【对话摘要（自动生成）】\n"

// HistoryEntry is the light projection of a message kept in memory: just
// the fields prompt assembly needs, no ext payload.
type HistoryEntry struct {
	MessageID  string
	Role       models.Role
	SenderID   string
	SenderType models.SenderType
	SenderName string
	Content    string
	CreatedAt  time.Time
	Mentions   []string
	HasMedia   bool
}

// HistorySource is the slice of the message store the state loads from.
type HistorySource interface {
	GetMessages(ctx context.Context, topicID string, limit int, beforeID string) ([]*models.Message, bool, string, error)
}

// State is the per-(agent, topic) mutable state: bounded history, running
// summary, processed-message set, roster, and the last media payload seen.
// All writes happen on the actor's single worker goroutine; the lock exists
// because activation may refresh history while the worker runs.
type State struct {
	mu sync.RWMutex

	agentID string
	topicID string

	history    []HistoryEntry
	maxHistory int

	summary      string
	summaryUntil string // message id the summary covers up to

	participants []models.Participant
	abilities    map[string]string // agent id -> first 80 chars of its persona

	lastMedia []models.MediaItem

	processed      map[string]bool
	processedOrder []string
}

// NewState creates an empty State bound to one agent and topic.
func NewState(agentID, topicID string) *State {
	return &State{
		agentID:    agentID,
		topicID:    topicID,
		maxHistory: DefaultHistoryLimit,
		abilities:  make(map[string]string),
		processed:  make(map[string]bool),
	}
}

// TopicID returns the bound topic.
func (s *State) TopicID() string { return s.topicID }

// LoadHistory replaces the history buffer with the newest limit messages
// from the store, paging backwards with a before-id cursor. The most recent
// media payload encountered is sampled into last media. Already-loaded
// message ids are marked processed so redelivery cannot double-process.
func (s *State) LoadHistory(ctx context.Context, src HistorySource, limit int) error {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var msgs []*models.Message
	beforeID := ""
	for len(msgs) < limit {
		page := historyPageSize
		if rest := limit - len(msgs); rest < page {
			page = rest
		}
		batch, hasMore, _, err := src.GetMessages(ctx, s.topicID, page, beforeID)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		msgs = append(batch, msgs...)
		beforeID = batch[0].MessageID
		if !hasMore {
			break
		}
	}

	entries := make([]HistoryEntry, 0, len(msgs))
	var lastMedia []models.MediaItem
	for _, m := range msgs {
		media := NormalizeMedia(m.Ext["media"])
		if len(media) > 0 {
			lastMedia = media
		}
		entries = append(entries, lightEntry(m, len(media) > 0))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = entries
	if len(lastMedia) > 0 {
		s.lastMedia = lastMedia
	}
	for _, e := range entries {
		s.markProcessedLocked(e.MessageID)
	}
	if s.summaryUntil != "" && !s.summaryCoveredLocked() {
		s.summary = ""
		s.summaryUntil = ""
	}
	return nil
}

// Append adds one entry to the history and samples its media. The buffer
// is bounded; the oldest entries are dropped on overflow.
func (s *State) Append(e HistoryEntry, media []models.MediaItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = s.history[over:]
	}
	if len(media) > 0 {
		s.lastMedia = media
	}
}

// MarkProcessed atomically tests and records a message id. Returns false
// when the id was already processed.
func (s *State) MarkProcessed(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[messageID] {
		return false
	}
	s.markProcessedLocked(messageID)
	return true
}

func (s *State) markProcessedLocked(messageID string) {
	if s.processed[messageID] {
		return
	}
	s.processed[messageID] = true
	s.processedOrder = append(s.processedOrder, messageID)
	if len(s.processedOrder) > maxProcessedIDs {
		// Keep the newest half.
		cut := len(s.processedOrder) / 2
		for _, id := range s.processedOrder[:cut] {
			delete(s.processed, id)
		}
		s.processedOrder = append([]string(nil), s.processedOrder[cut:]...)
	}
}

// SetParticipants replaces the roster and recomputes the per-agent ability
// index (first 80 chars of each agent's persona).
func (s *State) SetParticipants(ps []models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append([]models.Participant(nil), ps...)
	s.abilities = make(map[string]string, len(ps))
	for _, p := range ps {
		if p.ParticipantType != models.ParticipantAgent {
			continue
		}
		s.abilities[p.ParticipantID] = truncateRunes(p.SystemPrompt, 80)
	}
}

// Participants returns a snapshot of the roster.
func (s *State) Participants() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Participant(nil), s.participants...)
}

// Abilities returns the agent-id to short-persona index.
func (s *State) Abilities() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.abilities))
	for k, v := range s.abilities {
		out[k] = v
	}
	return out
}

// SetSummary stores the running summary and the id it covers up to.
func (s *State) SetSummary(summary, untilID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.summaryUntil = untilID
}

// Summary returns the running summary and the message id it covers.
func (s *State) Summary() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.summaryUntil
}

// LastMedia returns the most recently seen media payload.
func (s *State) LastMedia() []models.MediaItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MediaItem(nil), s.lastMedia...)
}

// History returns a snapshot of the history buffer.
func (s *State) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry(nil), s.history...)
}

// ClearAfter truncates the history strictly after the target message (the
// target itself stays). If the summary no longer covers an id still in the
// history, summary and summary-until are cleared together.
func (s *State) ClearAfter(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.history {
		if e.MessageID == messageID {
			s.history = s.history[:i+1]
			break
		}
	}
	if s.summaryUntil != "" && !s.summaryCoveredLocked() {
		s.summary = ""
		s.summaryUntil = ""
	}
}

func (s *State) summaryCoveredLocked() bool {
	for _, e := range s.history {
		if e.MessageID == s.summaryUntil {
			return true
		}
	}
	return false
}

// SummaryBlock returns the history slice to condense: everything except
// the newest keepRecent entries, capped to the newest maxCount of that
// older block, plus the id of its last entry.
func (s *State) SummaryBlock(keepRecent, maxCount int) ([]HistoryEntry, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) <= keepRecent {
		return nil, ""
	}
	block := s.history[:len(s.history)-keepRecent]
	if len(block) > maxCount {
		block = block[len(block)-maxCount:]
	}
	out := append([]HistoryEntry(nil), block...)
	return out, out[len(out)-1].MessageID
}

// EstimateHistoryTokens estimates the token cost of the history buffer
// plus the running summary.
func (s *State) EstimateHistoryTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := mcp.EstimateTokens(s.summary)
	for _, e := range s.history {
		total += mcp.EstimateTokens(e.Content)
	}
	return total
}

// CheckMemoryBudget reports whether the history (plus summary) exceeds the
// given share of the model's context window.
func (s *State) CheckMemoryBudget(model string, threshold float64) bool {
	budget := float64(MaxTokensForModel(model)) * threshold
	return float64(s.EstimateHistoryTokens()) > budget
}

// GetRecentHistory returns the newest history as prompt messages: tail
// maxMessages, user/assistant roles only, noise stripped, each message
// truncated to maxPerMessageChars, then the oldest dropped until the total
// fits maxTotalChars. excludeID skips one message (the one currently being
// answered). When includeSummary is set and a summary exists, a system
// message with the summary is prepended outside the char budget.
func (s *State) GetRecentHistory(maxMessages, maxTotalChars, maxPerMessageChars int, includeSummary bool, excludeID string) []llm.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var picked []llm.ChatMessage
	for i := len(s.history) - 1; i >= 0 && len(picked) < maxMessages; i-- {
		e := s.history[i]
		if e.MessageID == excludeID {
			continue
		}
		if e.Role != models.RoleUser && e.Role != models.RoleAssistant {
			continue
		}
		content := truncateRunes(stripPromptNoise(e.Content), maxPerMessageChars)
		if content == "" {
			continue
		}
		picked = append(picked, llm.ChatMessage{Role: e.Role, Content: content})
	}
	// picked is newest-first; restore chronological order.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}

	total := 0
	for _, m := range picked {
		total += len([]rune(m.Content))
	}
	for len(picked) > 1 && total > maxTotalChars {
		total -= len([]rune(picked[0].Content))
		picked = picked[1:]
	}
	if len(picked) == 1 && total > maxTotalChars {
		picked[0].Content = truncateRunes(picked[0].Content, maxTotalChars)
	}

	if includeSummary && s.summary != "" {
		return append([]llm.ChatMessage{{Role: models.RoleSystem, Content: SummaryPrefix + s.summary}}, picked...)
	}
	return picked
}

// lightEntry projects a full message into its in-memory form.
func lightEntry(m *models.Message, hasMedia bool) HistoryEntry {
	return HistoryEntry{
		MessageID:  m.MessageID,
		Role:       m.Role,
		SenderID:   m.SenderID,
		SenderType: m.SenderType,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		Mentions:   m.Mentions,
		HasMedia:   hasMedia,
	}
}

// Model context-window sizes by name prefix, longest match first.
var modelMaxTokens = []struct {
	prefix string
	tokens int
}{
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4.1", 1000000},
	{"gpt-4", 8192},
	{"gpt-3.5", 16384},
	{"o1", 200000},
	{"o3", 200000},
	{"claude", 200000},
	{"gemini", 1048576},
	{"deepseek", 65536},
	{"qwen", 131072},
	{"glm", 128000},
}

// DefaultModelMaxTokens is the fallback context window for unknown models.
const DefaultModelMaxTokens = 8192

// MaxTokensForModel looks up a model's context window by name prefix.
func MaxTokensForModel(model string) int {
	m := strings.ToLower(model)
	for _, e := range modelMaxTokens {
		if strings.HasPrefix(m, e.prefix) {
			return e.tokens
		}
	}
	return DefaultModelMaxTokens
}

// Referential phrases that signal the text talks about previously shown
// media, so the last media payload should be re-attached to the prompt.
var mediaReferencePhrases = []string{
	"上图", "这张图", "那张图", "上面的图", "刚才的图", "图中", "图里",
	"这个视频", "刚才的视频", "截图",
	"image", "picture", "photo", "screenshot", "the video",
}

// ShouldAttachLastMedia reports whether the text references prior visuals.
func ShouldAttachLastMedia(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range mediaReferencePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// base64ImageMarkdown matches inline data-URL image markdown, which has no
// business inside an LLM prompt.
var base64ImageMarkdown = regexp.MustCompile(`!\[[^\]]*\]\(data:[^)]*\)`)

// stripPromptNoise removes tool-result headings and inline base64 image
// markdown from a history message before it enters a prompt.
func stripPromptNoise(text string) string {
	text = base64ImageMarkdown.ReplaceAllString(text, "[图片]")
	var out []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[MCP:") ||
			strings.HasPrefix(trimmed, "【工具执行结果】") ||
			strings.HasPrefix(trimmed, "【工具执行失败】") ||
			strings.HasPrefix(trimmed, "【工具调用失败") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
