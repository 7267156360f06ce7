// Package keyspace composes the key and channel names the coordinator uses in
// the ephemeral store. All keys live under a configurable prefix so multiple
// deployments can share one Redis.
package keyspace

import "fmt"

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "parley"

// Keyspace deterministically names keys under a fixed prefix. Pure; no
// failure modes.
type Keyspace struct {
	prefix string
}

// New returns a Keyspace under the given prefix, falling back to
// DefaultPrefix when empty.
func New(prefix string) Keyspace {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keyspace{prefix: prefix}
}

// Prefix returns the configured prefix.
func (k Keyspace) Prefix() string { return k.prefix }

// QueuePending is the sorted set of waiting conversations, scored by
// enqueue time.
func (k Keyspace) QueuePending() string {
	return k.prefix + ":queue:pending"
}

// Assignment is the ownership lease for one conversation. Absence means no
// current owner.
func (k Keyspace) Assignment(conversationID string) string {
	return fmt.Sprintf("%s:assignment:%s", k.prefix, conversationID)
}

// AgentLoad is the set of conversation ids currently held by one agent.
func (k Keyspace) AgentLoad(agentID string) string {
	return fmt.Sprintf("%s:agent:%s:load", k.prefix, agentID)
}

// ConversationMessages is the TTL-bounded list holding the recent message
// tail of one conversation.
func (k Keyspace) ConversationMessages(conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s:messages", k.prefix, conversationID)
}

// Presence is the short-TTL liveness flag for one participant.
func (k Keyspace) Presence(participantID string) string {
	return fmt.Sprintf("%s:presence:%s", k.prefix, participantID)
}

// ConversationLock names the per-conversation mutation lock.
func (k Keyspace) ConversationLock(conversationID string) string {
	return fmt.Sprintf("%s:lock:conversation:%s", k.prefix, conversationID)
}

// QueueLock names the lock held during bulk queue maintenance.
func (k Keyspace) QueueLock() string {
	return k.prefix + ":lock:queue"
}

// LifecycleChannel is the pub/sub channel carrying lifecycle envelopes.
func (k Keyspace) LifecycleChannel() string {
	return k.prefix + ":events:lifecycle"
}

// MessagesChannel is the pub/sub channel carrying message envelopes.
func (k Keyspace) MessagesChannel() string {
	return k.prefix + ":events:messages"
}
