// Package events carries sync progress to in-process listeners and to
// websocket clients.
package events

import (
	"sync"
	"time"
)

// Event types.
const (
	DrainStarted        = "drain.started"
	DrainCompleted      = "drain.completed"
	ItemSynced          = "item.synced"
	ItemRetry           = "item.retry"
	ItemDropped         = "item.dropped"
	IDReconciled        = "id.reconciled"
	ConnectivityChanged = "connectivity.changed"
	OutboxEnqueued      = "outbox.enqueued"
)

// Event is one published notification.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Bus fans events out to subscribers synchronously. Handlers must not
// block.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers an event to every subscriber. A nil Bus discards it.
func (b *Bus) Publish(eventType string, data map[string]interface{}) {
	if b == nil {
		return
	}
	ev := Event{Type: eventType, Data: data, Timestamp: time.Now().Unix()}

	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
