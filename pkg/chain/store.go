// Package chain persists ActionChains in Redis so a chain created by one
// agent can be resumed by another. Chains are opaque JSON blobs keyed by
// "action_chain:<chain_id>"; no TTL is applied by default.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agora-ai/agora/pkg/models"
)

// ErrChainNotFound is returned when a chain id is missing or expired.
// Recipients treat this as a warning and proceed as a fresh message.
var ErrChainNotFound = errors.New("action chain not found")

// KeyPrefix is the Redis key namespace owned by the chain store.
const KeyPrefix = "action_chain:"

// Store reads and writes ActionChains.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration // 0 = no expiry
}

// NewStore creates a Store. ttl of zero means chains never expire.
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// NewChain builds a fresh running chain owned by the given agent and topic.
func NewChain(originAgentID, originTopicID, name string, steps []models.ActionStep) *models.ActionChain {
	now := time.Now()
	return &models.ActionChain{
		ChainID:       uuid.New().String(),
		Name:          name,
		OriginAgentID: originAgentID,
		OriginTopicID: originTopicID,
		Steps:         steps,
		CurrentIndex:  0,
		Status:        models.ChainRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Save writes the chain JSON, stamping UpdatedAt.
func (s *Store) Save(ctx context.Context, c *models.ActionChain) error {
	if c.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	c.UpdatedAt = time.Now()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chain %s: %w", c.ChainID, err)
	}
	if err := s.rdb.Set(ctx, KeyPrefix+c.ChainID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save chain %s: %w", c.ChainID, err)
	}
	return nil
}

// Load reads a chain by id. Returns ErrChainNotFound when missing/expired.
func (s *Store) Load(ctx context.Context, chainID string) (*models.ActionChain, error) {
	data, err := s.rdb.Get(ctx, KeyPrefix+chainID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrChainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", chainID, err)
	}
	var c models.ActionChain
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal chain %s: %w", chainID, err)
	}
	return &c, nil
}

// Delete removes a chain. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, chainID string) error {
	if err := s.rdb.Del(ctx, KeyPrefix+chainID).Err(); err != nil {
		return fmt.Errorf("delete chain %s: %w", chainID, err)
	}
	return nil
}
