package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agora-ai/agora/pkg/models"
)

// ErrMessageNotFound is returned when a message id does not exist.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore persists topic messages. Appends from different topics may
// race; ordering within a topic is enforced by the topic service, which
// serialises writes per topic.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a MessageStore.
func NewMessageStore(c *Client) *MessageStore { return &MessageStore{db: c.DB()} }

// Append persists a new message and returns it with id and timestamp set.
// When req carries no explicit message id in ext, a fresh UUID is assigned.
func (s *MessageStore) Append(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	if req.TopicID == "" {
		return nil, fmt.Errorf("topic_id is required")
	}
	if req.SenderID == "" {
		return nil, fmt.Errorf("sender_id is required")
	}

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
	// A caller may pin the message id up-front (the actor fixes its reply
	// id before streaming starts so chunks and the final row agree).
	if id, ok := req.Ext["message_id"].(string); ok && id != "" {
		msg.MessageID = id
		delete(req.Ext, "message_id")
	}

	mentions, err := json.Marshal(msg.Mentions)
	if err != nil {
		return nil, fmt.Errorf("marshal mentions: %w", err)
	}
	ext, err := marshalExt(msg.Ext)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, topic_id, sender_id, sender_type, role, content, mentions, ext, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.MessageID, msg.TopicID, msg.SenderID, msg.SenderType, msg.Role,
		msg.Content, mentions, ext, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// GetMessagesPaginated returns up to limit messages older than beforeID
// (all newest messages when beforeID is empty), in ascending created_at
// order, plus whether older messages remain and the newest id in the page.
func (s *MessageStore) GetMessagesPaginated(ctx context.Context, topicID string, limit int, beforeID string) ([]*models.Message, bool, string, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if beforeID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT message_id, topic_id, sender_id, sender_type, role, content, mentions, ext, created_at
			 FROM messages WHERE topic_id = $1
			 ORDER BY created_at DESC, message_id DESC LIMIT $2`,
			topicID, limit+1,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT m.message_id, m.topic_id, m.sender_id, m.sender_type, m.role, m.content, m.mentions, m.ext, m.created_at
			 FROM messages m, messages cur
			 WHERE cur.message_id = $2 AND m.topic_id = $1
			   AND (m.created_at, m.message_id) < (cur.created_at, cur.message_id)
			 ORDER BY m.created_at DESC, m.message_id DESC LIMIT $3`,
			topicID, beforeID, limit+1,
		)
	}
	if err != nil {
		return nil, false, "", fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, false, "", err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	// Reverse into ascending order for prompt assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	latestID := ""
	if len(msgs) > 0 {
		latestID = msgs[len(msgs)-1].MessageID
	}
	return msgs, hasMore, latestID, nil
}

// Get returns a single message by id.
func (s *MessageStore) Get(ctx context.Context, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT message_id, topic_id, sender_id, sender_type, role, content, mentions, ext, created_at
		 FROM messages WHERE message_id = $1`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

// DeleteAfter removes every message on the topic created strictly after the
// target message (the target itself is kept). Returns the deleted count.
func (s *MessageStore) DeleteAfter(ctx context.Context, topicID, targetID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages m
		 USING messages cur
		 WHERE cur.message_id = $2 AND m.topic_id = $1
		   AND (m.created_at, m.message_id) > (cur.created_at, cur.message_id)`,
		topicID, targetID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages after %s: %w", targetID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*models.Message, error) {
	var msg models.Message
	var mentions, ext []byte
	if err := r.Scan(&msg.MessageID, &msg.TopicID, &msg.SenderID, &msg.SenderType,
		&msg.Role, &msg.Content, &mentions, &ext, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if len(mentions) > 0 {
		if err := json.Unmarshal(mentions, &msg.Mentions); err != nil {
			return nil, fmt.Errorf("unmarshal mentions: %w", err)
		}
	}
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &msg.Ext); err != nil {
			return nil, fmt.Errorf("unmarshal ext: %w", err)
		}
	}
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func marshalExt(ext map[string]any) ([]byte, error) {
	if ext == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ext)
	if err != nil {
		return nil, fmt.Errorf("marshal ext: %w", err)
	}
	return data, nil
}
