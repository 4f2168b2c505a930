package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-ai/agora/pkg/actor"
	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/mcp"
	"github.com/agora-ai/agora/pkg/models"
	"github.com/agora-ai/agora/pkg/store"
)

type fakeTopics struct {
	mu         sync.Mutex
	topics     map[string]*models.Topic
	roster     []models.Participant
	messages   []*models.Message
	interrupts []string
	rollbackTo string
}

func (f *fakeTopics) SendMessage(_ context.Context, req models.SendMessageRequest) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &models.Message{
		MessageID: fmt.Sprintf("m-%d", len(f.messages)+1), TopicID: req.TopicID,
		SenderID: req.SenderID, SenderType: req.SenderType, Role: req.Role,
		Content: req.Content, Mentions: req.Mentions, Ext: req.Ext, CreatedAt: time.Now(),
	}
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeTopics) GetTopic(_ context.Context, topicID string) (*models.Topic, error) {
	if top, ok := f.topics[topicID]; ok {
		return top, nil
	}
	return nil, store.ErrTopicNotFound
}

func (f *fakeTopics) GetParticipants(context.Context, string) ([]models.Participant, error) {
	return f.roster, nil
}

func (f *fakeTopics) GetMessages(_ context.Context, _ string, limit int, _ string) ([]*models.Message, bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	newest := ""
	if len(msgs) > 0 {
		newest = msgs[len(msgs)-1].MessageID
	}
	return msgs, len(f.messages) > limit, newest, nil
}

func (f *fakeTopics) Rollback(_ context.Context, topicID, toMessageID string) (int64, error) {
	if _, ok := f.topics[topicID]; !ok {
		return 0, store.ErrTopicNotFound
	}
	f.mu.Lock()
	f.rollbackTo = toMessageID
	f.mu.Unlock()
	return 3, nil
}

func (f *fakeTopics) RequestInterrupt(_ context.Context, topicID, agentID string) error {
	f.mu.Lock()
	f.interrupts = append(f.interrupts, topicID+":"+agentID)
	f.mu.Unlock()
	return nil
}

type fakeAgents struct {
	mu          sync.Mutex
	activated   []string
	deactivated []string
	active      []actor.AgentInfo
	failWith    error
}

func (f *fakeAgents) ActivateAgent(_ context.Context, agentID, topicID string, _ *models.Message, _ int) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	f.activated = append(f.activated, agentID+"@"+topicID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAgents) DeactivateAgent(_ context.Context, agentID string) {
	f.mu.Lock()
	f.deactivated = append(f.deactivated, agentID)
	f.mu.Unlock()
}

func (f *fakeAgents) ActiveAgents() []actor.AgentInfo { return f.active }

// fakeStream replays queued envelopes to the handler once subscribed.
type fakeStream struct {
	handler bus.Handler
	queued  []*bus.Envelope
	closed  chan struct{}
}

func (f *fakeStream) Subscribe(_ context.Context, channel string) error {
	go func() {
		for _, env := range f.queued {
			f.handler(channel, env)
		}
	}()
	return nil
}

func (f *fakeStream) Close() error {
	close(f.closed)
	return nil
}

type pingOK struct{}

func (pingOK) Ping(context.Context) error { return nil }

type pingFail struct{}

func (pingFail) Ping(context.Context) error { return fmt.Errorf("connection refused") }

type fakeMCPHealth struct {
	statuses map[string]*mcp.HealthStatus
}

func (f *fakeMCPHealth) GetStatuses() map[string]*mcp.HealthStatus { return f.statuses }

func newTestServer(queued []*bus.Envelope) (*echo.Echo, *fakeTopics, *fakeAgents, *fakeStream) {
	topics := &fakeTopics{
		topics: map[string]*models.Topic{"t1": {TopicID: "t1", SessionType: models.SessionTopicGeneral}},
		roster: []models.Participant{
			{ParticipantID: "a1", ParticipantType: models.ParticipantAgent},
			{ParticipantID: "u1", ParticipantType: models.ParticipantUser},
		},
	}
	agents := &fakeAgents{}
	stream := &fakeStream{queued: queued, closed: make(chan struct{})}

	s := NewServer(Config{
		Topics: topics,
		Agents: agents,
		Streams: func(h bus.Handler) EventStream {
			stream.handler = h
			return stream
		},
	})
	e := echo.New()
	s.Routes(e)
	return e, topics, agents, stream
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSendMessage(t *testing.T) {
	t.Run("persists and returns the message", func(t *testing.T) {
		e, topics, _, _ := newTestServer(nil)
		rec := doJSON(e, http.MethodPost, "/api/v1/topics/t1/messages", `{"content": "大家好"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var msg models.Message
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
		assert.Equal(t, "大家好", msg.Content)
		assert.Equal(t, models.RoleUser, msg.Role)
		// Sender falls back to the proxy-header identity.
		assert.Equal(t, "api-client", msg.SenderID)
		require.Len(t, topics.messages, 1)
	})

	t.Run("activates mentioned agent participants only", func(t *testing.T) {
		e, _, agents, _ := newTestServer(nil)
		rec := doJSON(e, http.MethodPost, "/api/v1/topics/t1/messages",
			`{"content": "@a1 @u1 看一下", "mentions": ["a1", "u1", "ghost"]}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, []string{"a1@t1"}, agents.activated)
	})

	t.Run("empty content rejected", func(t *testing.T) {
		e, _, _, _ := newTestServer(nil)
		rec := doJSON(e, http.MethodPost, "/api/v1/topics/t1/messages", `{"content": ""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown topic is 404", func(t *testing.T) {
		e, _, _, _ := newTestServer(nil)
		rec := doJSON(e, http.MethodPost, "/api/v1/topics/nope/messages", `{"content": "hi"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListMessages(t *testing.T) {
	e, topics, _, _ := newTestServer(nil)
	for i := 0; i < 3; i++ {
		_, err := topics.SendMessage(context.Background(), models.SendMessageRequest{
			TopicID: "t1", SenderID: "u1", Role: models.RoleUser, Content: fmt.Sprintf("msg %d", i),
		})
		require.NoError(t, err)
	}

	rec := doJSON(e, http.MethodGet, "/api/v1/topics/t1/messages?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 2)
	assert.True(t, resp.HasMore)
	assert.Equal(t, "m-3", resp.NewestID)

	t.Run("limit out of range rejected", func(t *testing.T) {
		rec := doJSON(e, http.MethodGet, "/api/v1/topics/t1/messages?limit=999", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRollback(t *testing.T) {
	e, topics, _, _ := newTestServer(nil)
	rec := doJSON(e, http.MethodPost, "/api/v1/topics/t1/rollback", `{"to_message_id": "m-7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RollbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Deleted)
	assert.Equal(t, "m-7", topics.rollbackTo)

	t.Run("missing target rejected", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/api/v1/topics/t1/rollback", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestInterrupt(t *testing.T) {
	e, topics, _, _ := newTestServer(nil)
	rec := doJSON(e, http.MethodPost, "/api/v1/topics/t1/interrupt", `{"agent_id": "a1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"t1:a1"}, topics.interrupts)
}

func TestAgentLifecycle(t *testing.T) {
	e, _, agents, _ := newTestServer(nil)
	agents.active = []actor.AgentInfo{{AgentID: "a1", TopicID: "t1", Processed: 4}}

	rec := doJSON(e, http.MethodPost, "/api/v1/topics/t1/agents/a1/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1@t1"}, agents.activated)

	rec = doJSON(e, http.MethodPost, "/api/v1/agents/a1/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1"}, agents.deactivated)

	rec = doJSON(e, http.MethodGet, "/api/v1/agents/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []actor.AgentInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, int64(4), infos[0].Processed)
}

func TestHealth(t *testing.T) {
	topics := &fakeTopics{topics: map[string]*models.Topic{}}

	t.Run("healthy", func(t *testing.T) {
		s := NewServer(Config{Topics: topics, DB: pingOK{}, Redis: pingOK{}})
		e := echo.New()
		s.Routes(e)
		rec := doJSON(e, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, healthStatusHealthy, resp.Status)
	})

	t.Run("redis down degrades", func(t *testing.T) {
		s := NewServer(Config{Topics: topics, DB: pingOK{}, Redis: pingFail{}})
		e := echo.New()
		s.Routes(e)
		rec := doJSON(e, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, healthStatusDegraded, resp.Status)
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		s := NewServer(Config{Topics: topics, DB: pingFail{}, Redis: pingOK{}})
		e := echo.New()
		s.Routes(e)
		rec := doJSON(e, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("mcp statuses are surfaced", func(t *testing.T) {
		monitor := &fakeMCPHealth{statuses: map[string]*mcp.HealthStatus{
			"search":    {ServerID: "search", Healthy: true, ToolCount: 2},
			"image_gen": {ServerID: "image_gen", Healthy: false, Error: "health check failed: no session"},
		}}
		s := NewServer(Config{Topics: topics, DB: pingOK{}, Redis: pingOK{}, MCP: monitor})
		e := echo.New()
		s.Routes(e)
		rec := doJSON(e, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		// A broken tool server degrades but never makes the core unhealthy.
		assert.Equal(t, healthStatusDegraded, resp.Status)
		assert.Equal(t, healthStatusHealthy, resp.Checks["mcp:search"].Status)
		assert.Equal(t, healthStatusDegraded, resp.Checks["mcp:image_gen"].Status)
		assert.Contains(t, resp.Checks["mcp:image_gen"].Message, "no session")
	})
}

func TestEventsSSE(t *testing.T) {
	payload, err := json.Marshal(map[string]any{"type": bus.EventNewMessage, "data": map[string]any{"content": "hi"}})
	require.NoError(t, err)
	queued := []*bus.Envelope{{Type: bus.EventNewMessage, Payload: payload}}

	e, _, _, stream := newTestServer(queued)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/topics/t1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, "event: "+bus.EventNewMessage, eventLine)
	assert.Contains(t, dataLine, `"content":"hi"`)

	// Disconnect releases the stream.
	cancel()
	select {
	case <-stream.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed after client disconnect")
	}
}
