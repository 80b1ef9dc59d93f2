package models

import (
	"encoding/json"
	"time"
)

// OutboxItem is one mutation waiting to be acknowledged by the backend.
type OutboxItem struct {
	ID            string          `json:"id"`
	Operation     Operation       `json:"operation"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id,omitempty"` // target id; temp id for offline creates
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Ready reports whether the item may be attempted at now.
func (i OutboxItem) Ready(now time.Time) bool {
	return i.NextAttemptAt.IsZero() || !now.Before(i.NextAttemptAt)
}

// Entity decodes the payload. A missing payload yields an empty entity.
func (i OutboxItem) Entity() (Entity, error) {
	if len(i.Payload) == 0 {
		return Entity{}, nil
	}
	return DecodeEntity(i.Payload)
}

// DeadLetter is an outbox item that was dropped, with the reason.
type DeadLetter struct {
	Item      OutboxItem `json:"item"`
	Reason    string     `json:"reason"`
	DroppedAt time.Time  `json:"dropped_at"`
}
