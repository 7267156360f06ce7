package models

import "time"

// QueueEntry is one waiting conversation in the shared agent queue. Entries
// are scored by EnqueuedAt so the queue drains FIFO; a conversation appears
// in the queue at most once.
type QueueEntry struct {
	ConversationID string `json:"conversationId"`
	CustomerID     string `json:"customerId"`
	Channel        string `json:"channel,omitempty"`
	EnqueuedAt     int64  `json:"enqueuedAt"` // ms since epoch
}

// EnqueuedTime returns the enqueue instant as a time.Time.
func (e QueueEntry) EnqueuedTime() time.Time {
	return time.UnixMilli(e.EnqueuedAt)
}

// Score is the sorted-set score for the entry.
func (e QueueEntry) Score() float64 {
	return float64(e.EnqueuedAt)
}
