// Package deadletter receives outbox items that exhausted their retries
// or were rejected by the backend.
package deadletter

import (
	"context"

	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
)

// Sink accepts dropped items. The engine logs a failing sink and moves on.
type Sink interface {
	Drop(ctx context.Context, letter models.DeadLetter) error
}

// LogSink records dropped items in the log only.
type LogSink struct{}

// Drop implements Sink.
func (LogSink) Drop(_ context.Context, letter models.DeadLetter) error {
	logging.Get().With("deadletter").Error("outbox item dropped", nil, logging.Fields{
		"id":          letter.Item.ID,
		"operation":   string(letter.Item.Operation),
		"entity_type": string(letter.Item.EntityType),
		"entity_id":   letter.Item.EntityID,
		"retry_count": letter.Item.RetryCount,
		"reason":      letter.Reason,
	})
	return nil
}

// Multi fans a dropped item out to several sinks and returns the first
// error after trying all of them.
type Multi []Sink

// Drop implements Sink.
func (m Multi) Drop(ctx context.Context, letter models.DeadLetter) error {
	var first error
	for _, s := range m {
		if err := s.Drop(ctx, letter); err != nil && first == nil {
			first = err
		}
	}
	return first
}
