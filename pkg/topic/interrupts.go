package topic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InterruptKeyPrefix is the Redis key namespace for interrupt flags.
// Key format: "topic_interrupt:<topic_id>:<agent_id>".
const InterruptKeyPrefix = "topic_interrupt:"

// interruptTTL bounds how long an unconsumed flag lives. An agent that has
// already gone idle has nothing to interrupt, so stale flags just expire.
const interruptTTL = 10 * time.Minute

// InterruptKey returns the flag key for an agent on a topic.
func InterruptKey(topicID, agentID string) string {
	return InterruptKeyPrefix + topicID + ":" + agentID
}

// InterruptFlags stores per-agent interrupt requests in Redis. Agents poll
// between ReAct iterations and between streamed chunks; consuming the flag
// clears it atomically so one request interrupts at most one reply.
type InterruptFlags struct {
	rdb redis.UniversalClient
}

// NewInterruptFlags creates an InterruptFlags store.
func NewInterruptFlags(rdb redis.UniversalClient) *InterruptFlags {
	return &InterruptFlags{rdb: rdb}
}

// Raise sets the flag.
func (f *InterruptFlags) Raise(ctx context.Context, topicID, agentID string) error {
	if err := f.rdb.Set(ctx, InterruptKey(topicID, agentID), "1", interruptTTL).Err(); err != nil {
		return fmt.Errorf("raise interrupt for %s on %s: %w", agentID, topicID, err)
	}
	return nil
}

// Consume atomically reads and clears the flag. Returns true when a flag
// was present.
func (f *InterruptFlags) Consume(ctx context.Context, topicID, agentID string) (bool, error) {
	err := f.rdb.GetDel(ctx, InterruptKey(topicID, agentID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume interrupt for %s on %s: %w", agentID, topicID, err)
	}
	return true, nil
}
