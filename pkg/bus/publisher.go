package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher publishes events on topic channels. Publishing is best-effort;
// callers log failures and continue, since the persistent message store is
// the source of truth for state-carrying events.
type Publisher struct {
	rdb redis.UniversalClient
}

// NewPublisher creates a Publisher on the shared Redis client.
func NewPublisher(rdb redis.UniversalClient) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish marshals the payload and publishes it on the topic's channel.
// The payload must embed BasePayload so the routing fields are present.
func (p *Publisher) Publish(ctx context.Context, topicID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if err := p.rdb.Publish(ctx, TopicChannel(topicID), data).Err(); err != nil {
		return fmt.Errorf("publish on %s: %w", TopicChannel(topicID), err)
	}
	return nil
}

// PublishRaw publishes pre-marshaled JSON on the topic's channel.
func (p *Publisher) PublishRaw(ctx context.Context, topicID string, data []byte) error {
	if err := p.rdb.Publish(ctx, TopicChannel(topicID), data).Err(); err != nil {
		return fmt.Errorf("publish on %s: %w", TopicChannel(topicID), err)
	}
	return nil
}
