package topic

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/models"
)

// fakeMessageStore keeps messages in append order.
type fakeMessageStore struct {
	mu       sync.Mutex
	messages []*models.Message

	appendErr error
}

func (f *fakeMessageStore) Append(_ context.Context, req models.SendMessageRequest) (*models.Message, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &models.Message{
		MessageID:  uuid.New().String(),
		TopicID:    req.TopicID,
		SenderID:   req.SenderID,
		SenderType: req.SenderType,
		Role:       req.Role,
		Content:    req.Content,
		Mentions:   req.Mentions,
		Ext:        req.Ext,
		CreatedAt:  time.Now(),
	}
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeMessageStore) GetMessagesPaginated(_ context.Context, topicID string, limit int, _ string) ([]*models.Message, bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.messages {
		if m.TopicID == topicID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	latest := ""
	if len(out) > 0 {
		latest = out[len(out)-1].MessageID
	}
	return out, false, latest, nil
}

func (f *fakeMessageStore) Get(_ context.Context, messageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.MessageID == messageID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("message not found")
}

func (f *fakeMessageStore) DeleteAfter(_ context.Context, topicID, targetID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := -1
	for i, m := range f.messages {
		if m.MessageID == targetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("target not found")
	}
	var kept []*models.Message
	var deleted int64
	for i, m := range f.messages {
		if m.TopicID == topicID && i > idx {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	f.messages = kept
	return deleted, nil
}

type fakeTopicStore struct {
	topic        *models.Topic
	participants []models.Participant
	agent        *models.AgentConfig
}

func (f *fakeTopicStore) GetTopic(context.Context, string) (*models.Topic, error) {
	if f.topic == nil {
		return nil, fmt.Errorf("topic not found")
	}
	return f.topic, nil
}

func (f *fakeTopicStore) GetParticipants(context.Context, string) ([]models.Participant, error) {
	return f.participants, nil
}

func (f *fakeTopicStore) GetAgent(context.Context, string) (*models.AgentConfig, error) {
	if f.agent == nil {
		return nil, fmt.Errorf("agent not found")
	}
	return f.agent, nil
}

// capturingPublisher records published payloads per topic.
type capturingPublisher struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	p.mu.Unlock()
	return nil
}

func (p *capturingPublisher) all() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.payloads...)
}

func newTestService() (*Service, *fakeMessageStore, *capturingPublisher) {
	msgs := &fakeMessageStore{}
	pub := &capturingPublisher{}
	svc := NewService(msgs, &fakeTopicStore{}, pub, nil)
	return svc, msgs, pub
}

func TestSendMessage(t *testing.T) {
	t.Run("persists then publishes", func(t *testing.T) {
		svc, msgs, pub := newTestService()

		msg, err := svc.SendMessage(context.Background(), models.SendMessageRequest{
			TopicID:    "t1",
			SenderID:   "user-1",
			SenderType: models.SenderUser,
			Role:       models.RoleUser,
			Content:    "hello @agent-1",
			Mentions:   []string{"agent-1"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.MessageID)
		assert.Len(t, msgs.messages, 1)

		events := pub.all()
		require.Len(t, events, 1)
		payload, ok := events[0].(bus.NewMessagePayload)
		require.True(t, ok)
		assert.Equal(t, bus.EventNewMessage, payload.Type)
		assert.Equal(t, msg.MessageID, payload.Data.MessageID)
	})

	t.Run("publish failure does not fail the send", func(t *testing.T) {
		msgs := &fakeMessageStore{}
		pub := &capturingPublisher{err: fmt.Errorf("redis down")}
		svc := NewService(msgs, &fakeTopicStore{}, pub, nil)

		msg, err := svc.SendMessage(context.Background(), models.SendMessageRequest{
			TopicID: "t1", SenderID: "u1", Role: models.RoleUser, Content: "hi",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.MessageID)
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		msgs := &fakeMessageStore{appendErr: fmt.Errorf("db down")}
		pub := &capturingPublisher{}
		svc := NewService(msgs, &fakeTopicStore{}, pub, nil)

		_, err := svc.SendMessage(context.Background(), models.SendMessageRequest{
			TopicID: "t1", SenderID: "u1", Content: "hi",
		})
		require.Error(t, err)
		assert.Empty(t, pub.all())
	})
}

func TestRollback(t *testing.T) {
	svc, msgs, pub := newTestService()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		m, err := svc.SendMessage(ctx, models.SendMessageRequest{
			TopicID: "t1", SenderID: "u1", Role: models.RoleUser,
			Content: fmt.Sprintf("msg %d", i),
		})
		require.NoError(t, err)
		ids = append(ids, m.MessageID)
	}

	n, err := svc.Rollback(ctx, "t1", ids[1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, msgs.messages, 2) // target kept

	events := pub.all()
	last, ok := events[len(events)-1].(bus.RolledBackPayload)
	require.True(t, ok)
	assert.Equal(t, bus.EventMessagesRolledBack, last.Type)
	assert.Equal(t, ids[1], last.Data.ToMessageID)

	t.Run("wrong topic rejected", func(t *testing.T) {
		_, err := svc.Rollback(ctx, "other-topic", ids[0])
		require.Error(t, err)
	})

	t.Run("unknown target rejected", func(t *testing.T) {
		_, err := svc.Rollback(ctx, "t1", "nope")
		require.Error(t, err)
	})
}

func TestPublishHelpers(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	svc.PublishExecutionLog(ctx, "t1", "agent-1", "Researcher", bus.LogTool, "calling web_search", nil)
	svc.PublishProcessEvent(ctx, "t1", "agent-1", bus.PhaseMsgDeal, "start", nil)

	chain := &models.ActionChain{
		ChainID: "c1",
		Steps: []models.ActionStep{
			{ActionType: models.ActionUseMCP},
			{ActionType: models.ActionCallAgent},
		},
		CurrentIndex: 1,
		Status:       models.ChainRunning,
	}
	svc.PublishChainProgress(ctx, "t1", chain)

	events := pub.all()
	require.Len(t, events, 3)

	log, ok := events[0].(bus.ExecutionLogPayload)
	require.True(t, ok)
	assert.Equal(t, bus.LogTool, log.LogType)
	assert.NotEmpty(t, log.ID)

	proc, ok := events[1].(bus.ProcessEventPayload)
	require.True(t, ok)
	assert.Equal(t, bus.PhaseMsgDeal, proc.Phase)

	prog, ok := events[2].(bus.ChainProgressPayload)
	require.True(t, ok)
	assert.Equal(t, 1, prog.CurrentIndex)
	assert.Equal(t, 2, prog.TotalSteps)
	require.NotNil(t, prog.CurrentStep)
	assert.Equal(t, models.ActionCallAgent, prog.CurrentStep.ActionType)
}

func TestInterruptKey(t *testing.T) {
	assert.Equal(t, "topic_interrupt:t1:agent-1", InterruptKey("t1", "agent-1"))
}
