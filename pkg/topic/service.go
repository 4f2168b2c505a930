// Package topic is the write path for topic conversations: it persists
// messages, fans events out on the topic's bus channel, and owns the
// rollback and interrupt-flag operations.
//
// Ordering invariant: a message row is committed before its new_message
// event is published, so every consumer that reacts to the event can read
// the message back. Event publishing itself is best-effort.
package topic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agora-ai/agora/pkg/bus"
	"github.com/agora-ai/agora/pkg/models"
)

// MessageStore is the slice of the persistence layer the service writes
// through. Satisfied by *store.MessageStore.
type MessageStore interface {
	Append(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
	GetMessagesPaginated(ctx context.Context, topicID string, limit int, beforeID string) ([]*models.Message, bool, string, error)
	Get(ctx context.Context, messageID string) (*models.Message, error)
	DeleteAfter(ctx context.Context, topicID, targetID string) (int64, error)
}

// TopicStore reads topics, rosters, and agent configs. Satisfied by
// *store.TopicStore.
type TopicStore interface {
	GetTopic(ctx context.Context, topicID string) (*models.Topic, error)
	GetParticipants(ctx context.Context, topicID string) ([]models.Participant, error)
	GetAgent(ctx context.Context, agentID string) (*models.AgentConfig, error)
}

// EventPublisher publishes events on topic channels. Satisfied by
// *bus.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, topicID string, payload any) error
}

// Service coordinates message persistence and event fan-out for topics.
type Service struct {
	messages MessageStore
	topics   TopicStore
	events   EventPublisher
	flags    *InterruptFlags

	logger *slog.Logger
}

// NewService wires a Service. flags may be nil when interrupt support is not
// needed (tests).
func NewService(messages MessageStore, topics TopicStore, events EventPublisher, flags *InterruptFlags) *Service {
	return &Service{
		messages: messages,
		topics:   topics,
		events:   events,
		flags:    flags,
		logger:   slog.Default(),
	}
}

// SendMessage persists a message and publishes new_message on the topic
// channel. The returned message carries the assigned id and timestamp.
func (s *Service) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	msg, err := s.messages.Append(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	payload := bus.NewMessagePayload{
		BasePayload: bus.NewBasePayload(bus.EventNewMessage),
		Data:        msg,
	}
	if err := s.events.Publish(ctx, msg.TopicID, payload); err != nil {
		// The row is committed; consumers catch up from the store.
		s.logger.Warn("failed to publish new_message", "topic", msg.TopicID,
			"message", msg.MessageID, "error", err)
	}
	return msg, nil
}

// GetTopic returns a topic by id.
func (s *Service) GetTopic(ctx context.Context, topicID string) (*models.Topic, error) {
	return s.topics.GetTopic(ctx, topicID)
}

// GetParticipants returns the topic roster.
func (s *Service) GetParticipants(ctx context.Context, topicID string) ([]models.Participant, error) {
	return s.topics.GetParticipants(ctx, topicID)
}

// GetAgent returns an agent configuration.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	return s.topics.GetAgent(ctx, agentID)
}

// GetMessages returns up to limit messages older than beforeID in ascending
// order, plus whether more remain and the newest id in the page.
func (s *Service) GetMessages(ctx context.Context, topicID string, limit int, beforeID string) ([]*models.Message, bool, string, error) {
	return s.messages.GetMessagesPaginated(ctx, topicID, limit, beforeID)
}

// GetMessage returns one message by id.
func (s *Service) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	return s.messages.Get(ctx, messageID)
}

// Rollback deletes every message after the target (exclusive) and publishes
// messages_rolled_back so actors truncate their in-memory history too.
// Returns the number of deleted messages.
func (s *Service) Rollback(ctx context.Context, topicID, toMessageID string) (int64, error) {
	target, err := s.messages.Get(ctx, toMessageID)
	if err != nil {
		return 0, fmt.Errorf("rollback target: %w", err)
	}
	if target.TopicID != topicID {
		return 0, fmt.Errorf("message %s does not belong to topic %s", toMessageID, topicID)
	}

	n, err := s.messages.DeleteAfter(ctx, topicID, toMessageID)
	if err != nil {
		return 0, err
	}

	payload := bus.RolledBackPayload{BasePayload: bus.NewBasePayload(bus.EventMessagesRolledBack)}
	payload.Data.ToMessageID = toMessageID
	if err := s.events.Publish(ctx, topicID, payload); err != nil {
		s.logger.Warn("failed to publish messages_rolled_back", "topic", topicID, "error", err)
	}
	return n, nil
}

// RequestInterrupt raises the interrupt flag for an agent on a topic.
func (s *Service) RequestInterrupt(ctx context.Context, topicID, agentID string) error {
	if s.flags == nil {
		return fmt.Errorf("interrupt flags not configured")
	}
	return s.flags.Raise(ctx, topicID, agentID)
}

// ConsumeInterrupt atomically checks and clears the interrupt flag.
func (s *Service) ConsumeInterrupt(ctx context.Context, topicID, agentID string) (bool, error) {
	if s.flags == nil {
		return false, nil
	}
	return s.flags.Consume(ctx, topicID, agentID)
}

// PublishExecutionLog emits one execution_log entry on the topic channel.
func (s *Service) PublishExecutionLog(ctx context.Context, topicID, agentID, agentName, logType, message string, detail any) {
	payload := bus.ExecutionLogPayload{
		BasePayload: bus.NewBasePayload(bus.EventExecutionLog),
		ID:          uuid.New().String(),
		LogType:     logType,
		Message:     message,
		AgentID:     agentID,
		AgentName:   agentName,
		Detail:      detail,
	}
	if err := s.events.Publish(ctx, topicID, payload); err != nil {
		s.logger.Debug("failed to publish execution_log", "topic", topicID, "error", err)
	}
}

// PublishProcessEvent emits a topic_process_event phase transition.
func (s *Service) PublishProcessEvent(ctx context.Context, topicID, agentID, phase, status string, data any) {
	payload := bus.ProcessEventPayload{
		BasePayload: bus.NewBasePayload(bus.EventTopicProcess),
		Phase:       phase,
		AgentID:     agentID,
		Status:      status,
		Data:        data,
	}
	if err := s.events.Publish(ctx, topicID, payload); err != nil {
		s.logger.Debug("failed to publish process event", "topic", topicID, "error", err)
	}
}

// PublishChainProgress emits action_chain_progress after a chain step.
func (s *Service) PublishChainProgress(ctx context.Context, topicID string, chain *models.ActionChain) {
	payload := bus.ChainProgressPayload{
		BasePayload:  bus.NewBasePayload(bus.EventActionChainProgress),
		ChainID:      chain.ChainID,
		CurrentIndex: chain.CurrentIndex,
		TotalSteps:   len(chain.Steps),
		Status:       chain.Status,
	}
	if chain.CurrentIndex < len(chain.Steps) {
		step := chain.Steps[chain.CurrentIndex]
		payload.CurrentStep = &step
	}
	if err := s.events.Publish(ctx, topicID, payload); err != nil {
		s.logger.Debug("failed to publish chain progress", "topic", topicID, "error", err)
	}
}

// Publish forwards an arbitrary typed payload to the topic channel.
func (s *Service) Publish(ctx context.Context, topicID string, payload any) error {
	return s.events.Publish(ctx, topicID, payload)
}
