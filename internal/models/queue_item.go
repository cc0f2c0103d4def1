package models

import "time"

// QueueStatus represents the lifecycle state of a queued mutation.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusExhausted QueueStatus = "exhausted"
)

// QueueItem is a durable record of one pending mutation.
type QueueItem struct {
	ID            string      `json:"id"`
	Table         Table       `json:"table"`
	Operation     Operation   `json:"operation"`
	Payload       Record      `json:"payload"`
	EnqueuedAt    time.Time   `json:"enqueued_at"`
	RetryCount    int         `json:"retry_count"`
	Priority      Priority    `json:"priority"`
	Status        QueueStatus `json:"status"`
	LastError     string      `json:"last_error,omitempty"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty"`
	// Base is the cached record when an update or delete was queued. A pull
	// compares against it to tell remote changes from local ones.
	Base          Record      `json:"base,omitempty"`
}

// TargetID returns the identity of the record the mutation addresses.
func (q *QueueItem) TargetID() string {
	return q.Payload.ID()
}

// IsExhausted reports whether the item has stopped being retried.
func (q *QueueItem) IsExhausted() bool {
	return q.Status == QueueStatusExhausted
}

// Clone returns a copy that shares no mutable state with q.
func (q *QueueItem) Clone() *QueueItem {
	c := *q
	c.Payload = q.Payload.Clone()
	c.Base = q.Base.Clone()
	if q.LastAttemptAt != nil {
		at := *q.LastAttemptAt
		c.LastAttemptAt = &at
	}
	return &c
}
