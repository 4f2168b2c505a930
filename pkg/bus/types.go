// Package bus provides real-time event delivery via Redis Pub/Sub.
//
// Every topic has one channel ("topic:<topic_id>"). All events published on
// a channel are JSON objects with at least {type, timestamp}. Delivery is
// at-most-once: Redis drops events published while a subscriber is
// reconnecting, so all state-carrying events are either idempotent or also
// present in the persistent message store.
//
// The event-type set consumed and emitted by the core is closed; the
// subscriber ignores anything outside it. Payload consumers must treat
// unknown fields as forward-compatible.
package bus

import "encoding/json"

// Event types published on topic channels. This list is complete for the core.
const (
	EventNewMessage          = "new_message"
	EventTopicUpdated        = "topic_updated"
	EventParticipantsUpdated = "topic_participants_updated"
	EventAgentJoined         = "agent_joined"
	EventParticipantLeft     = "participant_left"
	EventMessagesRolledBack  = "messages_rolled_back"
	EventAgentThinking       = "agent_thinking"
	EventAgentStreamChunk    = "agent_stream_chunk"
	EventAgentStreamDone     = "agent_stream_done"
	EventAgentSilent         = "agent_silent"
	EventExecutionLog        = "execution_log"
	EventReaction            = "reaction"
	EventTopicProcess        = "topic_process_event"
	EventActionChainProgress = "action_chain_progress"
)

// knownEventTypes is the whitelist the subscriber dispatches.
var knownEventTypes = map[string]bool{
	EventNewMessage:          true,
	EventTopicUpdated:        true,
	EventParticipantsUpdated: true,
	EventAgentJoined:         true,
	EventParticipantLeft:     true,
	EventMessagesRolledBack:  true,
	EventAgentThinking:       true,
	EventAgentStreamChunk:    true,
	EventAgentStreamDone:     true,
	EventAgentSilent:         true,
	EventExecutionLog:        true,
	EventReaction:            true,
	EventTopicProcess:        true,
	EventActionChainProgress: true,
}

// KnownEventType reports whether t belongs to the core's closed event set.
func KnownEventType(t string) bool { return knownEventTypes[t] }

// TopicChannel returns the Redis channel name for a topic.
// Format: "topic:{topic_id}"
func TopicChannel(topicID string) string { return "topic:" + topicID }

// Envelope is a received event: the type extracted for routing plus the
// complete original payload for decoding or verbatim forwarding (SSE).
type Envelope struct {
	Type      string
	Timestamp string
	Payload   json.RawMessage
}

// Decode unmarshals the full payload into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
