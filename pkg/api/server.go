// Package api is the HTTP surface: message ingest, topic history, rollback,
// interrupts, agent activation, and the SSE bridge that forwards topic bus
// events to browsers.
package api

import (
	"context"
	"log/slog"

	echo "github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"

	"github.com/agora-ai/agora/pkg/actor"
	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/mcp"
	"github.com/agora-ai/agora/pkg/models"
)

// TopicService is the slice of the topic layer the handlers call.
// Satisfied by *topic.Service.
type TopicService interface {
	SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
	GetTopic(ctx context.Context, topicID string) (*models.Topic, error)
	GetParticipants(ctx context.Context, topicID string) ([]models.Participant, error)
	GetMessages(ctx context.Context, topicID string, limit int, beforeID string) ([]*models.Message, bool, string, error)
	Rollback(ctx context.Context, topicID, toMessageID string) (int64, error)
	RequestInterrupt(ctx context.Context, topicID, agentID string) error
}

// AgentManager is the slice of the actor manager the handlers call.
// Satisfied by *actor.Manager.
type AgentManager interface {
	ActivateAgent(ctx context.Context, agentID, topicID string, trigger *models.Message, historyLimit int) error
	DeactivateAgent(ctx context.Context, agentID string)
	ActiveAgents() []actor.AgentInfo
}

// EventStream is one bus subscription used by an SSE connection.
// Satisfied by *bus.Subscriber.
type EventStream interface {
	Subscribe(ctx context.Context, channel string) error
	Close() error
}

// StreamFactory opens a new EventStream delivering envelopes to handler.
// Each SSE connection gets its own stream.
type StreamFactory func(handler bus.Handler) EventStream

// Pinger is a liveness probe for a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MCPHealth reports the last observed state of the monitored MCP servers.
// Satisfied by *mcp.HealthMonitor.
type MCPHealth interface {
	GetStatuses() map[string]*mcp.HealthStatus
}

// Server holds the handler dependencies.
type Server struct {
	topics  TopicService
	agents  AgentManager
	streams StreamFactory

	// Health probes; nil entries are skipped.
	db    Pinger
	redis Pinger
	mcp   MCPHealth

	logger *slog.Logger
}

// Config wires a Server.
type Config struct {
	Topics TopicService
	Agents AgentManager
	DB     Pinger
	Redis  Pinger
	MCP    MCPHealth

	// Streams overrides the SSE stream factory; nil uses Rdb.
	Streams StreamFactory
	Rdb     redis.UniversalClient
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	streams := cfg.Streams
	if streams == nil {
		streams = func(h bus.Handler) EventStream { return bus.NewSubscriber(cfg.Rdb, h) }
	}
	return &Server{
		topics:  cfg.Topics,
		agents:  cfg.Agents,
		streams: streams,
		db:      cfg.DB,
		redis:   cfg.Redis,
		mcp:     cfg.MCP,
		logger:  slog.Default().With("component", "api"),
	}
}

// Routes registers all handlers on e.
func (s *Server) Routes(e *echo.Echo) {
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/topics/:id/messages", s.sendMessageHandler)
	v1.GET("/topics/:id/messages", s.listMessagesHandler)
	v1.GET("/topics/:id/events", s.eventsHandler)
	v1.POST("/topics/:id/rollback", s.rollbackHandler)
	v1.POST("/topics/:id/interrupt", s.interruptHandler)
	v1.POST("/topics/:id/agents/:agent_id/activate", s.activateAgentHandler)
	v1.POST("/agents/:agent_id/deactivate", s.deactivateAgentHandler)
	v1.GET("/agents/active", s.activeAgentsHandler)
}
