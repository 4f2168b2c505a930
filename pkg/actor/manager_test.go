package actor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/llm"
	"github.com/agora-ai/agora/pkg/models"
)

// fakeSubscription records subscribe/unsubscribe calls.
type fakeSubscription struct {
	mu          sync.Mutex
	subscribed  map[string]bool
	subCalls    int
	unsubCalls  int
	closedCalls int
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{subscribed: make(map[string]bool)}
}

func (f *fakeSubscription) Subscribe(_ context.Context, ch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	f.subscribed[ch] = true
	return nil
}

func (f *fakeSubscription) Unsubscribe(_ context.Context, ch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubCalls++
	delete(f.subscribed, ch)
	return nil
}

func (f *fakeSubscription) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedCalls++
	return nil
}

func (f *fakeSubscription) isSubscribed(ch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[ch]
}

func newTestManager(t *testing.T, topics *fakeTopics, provider llm.Provider) (*Manager, *fakeSubscription) {
	t.Helper()
	deps := Deps{
		Topics:     topics,
		LLMConfigs: &fakeConfigs{configs: map[string]*models.LLMConfig{
			"cfg-1": {ConfigID: "cfg-1", Provider: "openai", APIKey: "k", Model: "gpt-4", Enabled: true},
		}},
		Chains: newFakeChains(),
		NewProvider: func(*models.LLMConfig) (llm.Provider, error) {
			return provider, nil
		},
	}
	m := newManager(deps, nil)
	sub := newFakeSubscription()
	m.sub = sub
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, sub
}

func TestManagerChannelSharing(t *testing.T) {
	topics := newFakeTopics(models.SessionTopicGeneral)
	topics.agents["a1"] = &models.AgentConfig{AgentID: "a1", Name: "A", LLMConfigID: "cfg-1"}
	topics.agents["a2"] = &models.AgentConfig{AgentID: "a2", Name: "B", LLMConfigID: "cfg-1"}
	provider := &streamProvider{chunks: []llm.Chunk{&llm.TextChunk{Content: "hi"}}}
	m, sub := newTestManager(t, topics, provider)
	ctx := context.Background()

	require.NoError(t, m.ActivateAgent(ctx, "a1", "t1", nil, 0))
	require.NoError(t, m.ActivateAgent(ctx, "a2", "t1", nil, 0))
	assert.True(t, sub.isSubscribed("topic:t1"))

	// The channel stays subscribed while any agent remains on it.
	m.DeactivateAgent(ctx, "a1")
	assert.True(t, sub.isSubscribed("topic:t1"))
	m.DeactivateAgent(ctx, "a2")
	assert.False(t, sub.isSubscribed("topic:t1"))
}

func TestManagerDispatch(t *testing.T) {
	topics := newFakeTopics(models.SessionPrivateChat)
	topics.agents["a1"] = &models.AgentConfig{AgentID: "a1", Name: "A", LLMConfigID: "cfg-1"}
	provider := &streamProvider{chunks: []llm.Chunk{&llm.TextChunk{Content: "收到"}}}
	m, _ := newTestManager(t, topics, provider)
	ctx := context.Background()

	require.NoError(t, m.ActivateAgent(ctx, "a1", "t1", nil, 0))

	msg := userMessage("你好")
	payload, err := json.Marshal(bus.NewMessagePayload{
		BasePayload: bus.NewBasePayload(bus.EventNewMessage),
		Data:        msg,
	})
	require.NoError(t, err)
	m.dispatch("topic:t1", &bus.Envelope{Type: bus.EventNewMessage, Payload: payload})

	// The worker drains the mailbox asynchronously.
	require.Eventually(t, func() bool {
		return len(topics.assistantMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	infos := m.ActiveAgents()
	require.Len(t, infos, 1)
	assert.Equal(t, "a1", infos[0].AgentID)
	assert.Equal(t, "t1", infos[0].TopicID)
	assert.Equal(t, int64(1), infos[0].Processed)
}

func TestManagerTopicSwitch(t *testing.T) {
	topics := newFakeTopics(models.SessionPrivateChat)
	topics.agents["a1"] = &models.AgentConfig{AgentID: "a1", Name: "A", LLMConfigID: "cfg-1"}
	provider := &streamProvider{}
	m, sub := newTestManager(t, topics, provider)
	ctx := context.Background()

	require.NoError(t, m.ActivateAgent(ctx, "a1", "t1", nil, 0))
	require.NoError(t, m.ActivateAgent(ctx, "a1", "t2", nil, 0))

	assert.False(t, sub.isSubscribed("topic:t1"))
	assert.True(t, sub.isSubscribed("topic:t2"))

	a, ok := m.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "t2", a.Topic())
}
