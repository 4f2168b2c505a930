package actor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/models"
)

// BehaviorFactory builds the Behavior for a newly created actor.
type BehaviorFactory func(agentID string) Behavior

// subscription is the slice of bus.Subscriber the manager drives.
type subscription interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}

// Manager is the process-wide actor registry. It owns exactly one bus
// subscriber and fans every delivered event into the mailboxes of the
// agents registered on that channel. Subscription is channel-shared:
// agents on the same topic share one subscribe call, and the channel is
// only unsubscribed when its agent list empties.
type Manager struct {
	deps        Deps
	newBehavior BehaviorFactory

	mu            sync.Mutex
	actors        map[string]*Actor
	channelAgents map[string][]string

	sub    subscription
	logger *slog.Logger
}

// NewManager creates a Manager with a live Redis subscriber.
func NewManager(rdb redis.UniversalClient, deps Deps, newBehavior BehaviorFactory) *Manager {
	m := newManager(deps, newBehavior)
	m.sub = bus.NewSubscriber(rdb, m.dispatch)
	return m
}

func newManager(deps Deps, newBehavior BehaviorFactory) *Manager {
	if newBehavior == nil {
		newBehavior = func(string) Behavior { return BaseBehavior{} }
	}
	return &Manager{
		deps:          deps,
		newBehavior:   newBehavior,
		actors:        make(map[string]*Actor),
		channelAgents: make(map[string][]string),
		logger:        slog.Default(),
	}
}

// dispatch routes one delivered event into every mailbox registered on the
// channel. Runs on the subscriber goroutine; OnEvent never blocks.
func (m *Manager) dispatch(channel string, env *bus.Envelope) {
	m.mu.Lock()
	ids := append([]string(nil), m.channelAgents[channel]...)
	actors := make([]*Actor, 0, len(ids))
	for _, id := range ids {
		if a, ok := m.actors[id]; ok {
			actors = append(actors, a)
		}
	}
	m.mu.Unlock()

	for _, a := range actors {
		a.OnEvent(env)
	}
}

// ActivateAgent gets or creates the agent's actor, activates it on the
// topic, and registers it on the topic channel. trigger, when non-nil, is
// enqueued after activation. historyLimit of zero uses the default.
func (m *Manager) ActivateAgent(ctx context.Context, agentID, topicID string, trigger *models.Message, historyLimit int) error {
	m.mu.Lock()
	a, ok := m.actors[agentID]
	if !ok {
		a = NewActor(agentID, m.deps, m.newBehavior(agentID))
		m.actors[agentID] = a
	}
	prevTopic := a.Topic()
	m.mu.Unlock()

	if err := a.Activate(ctx, topicID, trigger, historyLimit); err != nil {
		return err
	}

	m.mu.Lock()
	if prevTopic != "" && prevTopic != topicID {
		m.removeFromChannelLocked(ctx, bus.TopicChannel(prevTopic), agentID)
	}
	ch := bus.TopicChannel(topicID)
	if !contains(m.channelAgents[ch], agentID) {
		m.channelAgents[ch] = append(m.channelAgents[ch], agentID)
	}
	m.mu.Unlock()

	if err := m.sub.Subscribe(ctx, ch); err != nil {
		return err
	}
	return nil
}

// DeactivateAgent stops an actor and drops its channel registrations.
func (m *Manager) DeactivateAgent(ctx context.Context, agentID string) {
	m.mu.Lock()
	a, ok := m.actors[agentID]
	if ok {
		delete(m.actors, agentID)
	}
	for ch := range m.channelAgents {
		m.removeFromChannelLocked(ctx, ch, agentID)
	}
	m.mu.Unlock()

	if ok {
		a.Stop()
		m.logger.Info("Actor deactivated", "agent", agentID)
	}
}

// removeFromChannelLocked drops the agent from a channel's list and
// unsubscribes the channel once no agent remains on it.
func (m *Manager) removeFromChannelLocked(ctx context.Context, channel, agentID string) {
	list := m.channelAgents[channel]
	out := list[:0]
	for _, id := range list {
		if id != agentID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		delete(m.channelAgents, channel)
		if err := m.sub.Unsubscribe(ctx, channel); err != nil {
			m.logger.Warn("Unsubscribe failed", "channel", channel, "error", err)
		}
		return
	}
	m.channelAgents[channel] = out
}

// Get returns a live actor by agent id.
func (m *Manager) Get(agentID string) (*Actor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[agentID]
	return a, ok
}

// AgentInfo is one row of the active-agent listing.
type AgentInfo struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
	TopicID   string `json:"topic_id"`
	Processed int64  `json:"processed"`
	Errors    int64  `json:"errors"`
}

// ActiveAgents lists all live actors with their counters.
func (m *Manager) ActiveAgents() []AgentInfo {
	m.mu.Lock()
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	out := make([]AgentInfo, 0, len(actors))
	for _, a := range actors {
		processed, errs := a.Stats()
		out = append(out, AgentInfo{
			AgentID:   a.AgentID(),
			AgentName: a.agentName(),
			TopicID:   a.Topic(),
			Processed: processed,
			Errors:    errs,
		})
	}
	return out
}

// Shutdown stops the subscriber and every actor.
func (m *Manager) Shutdown(ctx context.Context) {
	if err := m.sub.Close(); err != nil {
		m.logger.Warn("Subscriber close failed", "error", err)
	}

	m.mu.Lock()
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.actors = make(map[string]*Actor)
	m.channelAgents = make(map[string][]string)
	m.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
	m.logger.Info("Actor manager shut down", "actors", len(actors))
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
