package models

import "time"

// ChainStatus is the lifecycle state of an ActionChain.
type ChainStatus string

// Chain status values.
const (
	ChainRunning     ChainStatus = "running"
	ChainCompleted   ChainStatus = "completed"
	ChainInterrupted ChainStatus = "interrupted"
)

// ActionChain is an ordered, persistently-identified sequence of ActionSteps
// that can be handed off between agents via @-mention. Stored as opaque JSON
// in Redis under "action_chain:<chain_id>". The originating agent includes
// the chain id and step index in the outgoing message's ext; the recipient
// loads the chain and resumes at that index.
type ActionChain struct {
	ChainID       string       `json:"chain_id"`
	Name          string       `json:"name,omitempty"`
	OriginAgentID string       `json:"origin_agent_id"`
	OriginTopicID string       `json:"origin_topic_id"`
	Steps         []ActionStep `json:"steps"`
	// CurrentIndex never decreases and never exceeds len(Steps).
	CurrentIndex int         `json:"current_index"`
	Status       ChainStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Advance moves the cursor past the current step, clamped at len(Steps).
// The cursor is monotonic: callers may never move it backwards.
func (c *ActionChain) Advance() {
	if c.CurrentIndex < len(c.Steps) {
		c.CurrentIndex++
	}
	if c.CurrentIndex == len(c.Steps) {
		c.Status = ChainCompleted
	}
}

// Remaining reports how many steps have not run yet.
func (c *ActionChain) Remaining() int {
	return len(c.Steps) - c.CurrentIndex
}
