package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agora-ai/agora/pkg/models"
)

// ErrTopicNotFound is returned when a topic id does not exist.
var ErrTopicNotFound = errors.New("topic not found")

// ErrAgentNotFound is returned when an agent id does not exist.
var ErrAgentNotFound = errors.New("agent not found")

// TopicStore persists topics, rosters, and agent configurations.
type TopicStore struct {
	db *sql.DB
}

// NewTopicStore creates a TopicStore.
func NewTopicStore(c *Client) *TopicStore { return &TopicStore{db: c.DB()} }

// GetTopic returns a topic by id.
func (s *TopicStore) GetTopic(ctx context.Context, topicID string) (*models.Topic, error) {
	var t models.Topic
	var ext []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT topic_id, name, session_type, ext, created_at FROM topics WHERE topic_id = $1`,
		topicID,
	).Scan(&t.TopicID, &t.Name, &t.SessionType, &ext, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &t.Ext); err != nil {
			return nil, fmt.Errorf("unmarshal topic ext: %w", err)
		}
	}
	return &t, nil
}

// CreateTopic inserts a topic row.
func (s *TopicStore) CreateTopic(ctx context.Context, t *models.Topic) error {
	ext, err := marshalExt(t.Ext)
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO topics (topic_id, name, session_type, ext, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.TopicID, t.Name, t.SessionType, ext, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	return nil
}

// GetParticipants returns the topic roster.
func (s *TopicStore) GetParticipants(ctx context.Context, topicID string) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant_id, participant_type, name, avatar, system_prompt, llm_config_id
		 FROM topic_participants WHERE topic_id = $1 ORDER BY joined_at`,
		topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ParticipantID, &p.ParticipantType, &p.Name, &p.Avatar,
			&p.SystemPrompt, &p.LLMConfigID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddParticipant upserts a roster entry.
func (s *TopicStore) AddParticipant(ctx context.Context, topicID string, p models.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topic_participants (topic_id, participant_id, participant_type, name, avatar, system_prompt, llm_config_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (topic_id, participant_id) DO UPDATE
		 SET name = EXCLUDED.name, avatar = EXCLUDED.avatar,
		     system_prompt = EXCLUDED.system_prompt, llm_config_id = EXCLUDED.llm_config_id`,
		topicID, p.ParticipantID, p.ParticipantType, p.Name, p.Avatar, p.SystemPrompt, p.LLMConfigID,
	)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes a roster entry.
func (s *TopicStore) RemoveParticipant(ctx context.Context, topicID, participantID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM topic_participants WHERE topic_id = $1 AND participant_id = $2`,
		topicID, participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

// GetAgent returns an agent configuration by id.
func (s *TopicStore) GetAgent(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	var a models.AgentConfig
	var ext []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, name, avatar, system_prompt, llm_config_id, ext FROM agents WHERE agent_id = $1`,
		agentID,
	).Scan(&a.AgentID, &a.Name, &a.Avatar, &a.SystemPrompt, &a.LLMConfigID, &ext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &a.Ext); err != nil {
			return nil, fmt.Errorf("unmarshal agent ext: %w", err)
		}
	}
	return &a, nil
}
