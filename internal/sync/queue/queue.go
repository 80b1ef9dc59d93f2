// Package queue provides the persisted outbox of mutations waiting for the
// backend. The outbox is the single record of unacknowledged work.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
	"github.com/RMMwalali/kraftbasic-sub001/internal/uuid"
)

// StateKey is where the outbox snapshot is persisted.
const StateKey = "outbox:state"

// Outbox is a FIFO of pending mutations. Every mutation and the write of
// the resulting snapshot happen under one lock.
type Outbox struct {
	mu      sync.Mutex
	store   storage.Store
	items   []models.OutboxItem
	maxSize int
	now     func() time.Time
	log     *logging.Logger
}

// New creates an empty Outbox. maxSize 0 means unbounded.
func New(store storage.Store, maxSize int) *Outbox {
	return &Outbox{
		store:   store,
		maxSize: maxSize,
		now:     time.Now,
		log:     logging.Get().With("outbox"),
	}
}

// Load replaces the in-memory queue with the persisted snapshot. A
// corrupted snapshot yields an empty queue.
func (q *Outbox) Load(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	blob, err := q.store.Get(ctx, StateKey)
	if err != nil {
		if storage.IsNotFound(err) {
			q.items = nil
			return nil
		}
		return apperrors.Wrap(apperrors.ErrStorage, "load outbox", err)
	}

	var items []models.OutboxItem
	if err := json.Unmarshal(blob, &items); err != nil {
		q.log.Warn("corrupted outbox snapshot, starting empty", logging.Fields{"error": err.Error()})
		q.items = nil
		return nil
	}
	q.items = items
	q.log.Info("outbox loaded", logging.Fields{"items": len(items)})
	return nil
}

// Enqueue appends a mutation and persists the queue before returning.
func (q *Outbox) Enqueue(ctx context.Context, op models.Operation, entityType models.EntityType, entityID string, payload json.RawMessage) (string, error) {
	if !op.Valid() {
		return "", apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", op)
	}
	if !entityType.Valid() {
		return "", apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", entityType)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return "", apperrors.New(apperrors.ErrSerialization, "payload is not valid JSON")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return "", apperrors.Newf(apperrors.ErrQueueFull, "outbox is full (max size: %d)", q.maxSize)
	}

	item := models.OutboxItem{
		ID:         uuid.New(),
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: q.now().UTC(),
	}
	q.items = append(q.items, item)

	if err := q.persistLocked(ctx); err != nil {
		q.items = q.items[:len(q.items)-1]
		return "", err
	}

	q.log.Debug("enqueued", logging.Fields{
		"id": item.ID, "operation": string(op), "entity_type": string(entityType), "entity_id": entityID,
	})
	return item.ID, nil
}

// Restore puts a previously dropped item back at the tail with its retry
// state cleared. The item keeps its id.
func (q *Outbox) Restore(ctx context.Context, item models.OutboxItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(item.ID) >= 0 {
		return apperrors.Newf(apperrors.ErrInvalid, "item %s already queued", item.ID)
	}
	item.RetryCount = 0
	item.NextAttemptAt = time.Time{}
	item.LastError = ""
	q.items = append(q.items, item)

	if err := q.persistLocked(ctx); err != nil {
		q.items = q.items[:len(q.items)-1]
		return err
	}
	return nil
}

// Remove deletes an item and persists the queue.
func (q *Outbox) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "outbox item %s not found", id)
	}
	prev := q.items
	next := make([]models.OutboxItem, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	q.items = append(next, prev[idx+1:]...)

	if err := q.persistLocked(ctx); err != nil {
		q.items = prev
		return err
	}
	return nil
}

// Get returns a copy of one item.
func (q *Outbox) Get(id string) (models.OutboxItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return models.OutboxItem{}, false
	}
	return q.items[idx], true
}

// Snapshot returns a point-in-time copy in enqueue order.
func (q *Outbox) Snapshot() []models.OutboxItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.OutboxItem, len(q.items))
	copy(out, q.items)
	return out
}

// Update replaces the stored item with the same id. The change is written
// by the next Persist.
func (q *Outbox) Update(item models.OutboxItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(item.ID)
	if idx < 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "outbox item %s not found", item.ID)
	}
	q.items[idx] = item
	return nil
}

// Apply calls fn on every item in order; items for which fn returns true
// count as changed. The change is written by the next Persist.
func (q *Outbox) Apply(fn func(item *models.OutboxItem) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	changed := 0
	for i := range q.items {
		if fn(&q.items[i]) {
			changed++
		}
	}
	return changed
}

// Persist writes the current queue.
func (q *Outbox) Persist(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persistLocked(ctx)
}

// HasPending reports whether any queued item targets the given entity.
func (q *Outbox) HasPending(entityType models.EntityType, entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].EntityType == entityType && q.items[i].EntityID == entityID {
			return true
		}
	}
	return false
}

// Len returns the number of queued items.
func (q *Outbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats summarizes the queue.
type Stats struct {
	Total    int                       `json:"total" yaml:"total"`
	Ready    int                       `json:"ready" yaml:"ready"`
	Retrying int                       `json:"retrying" yaml:"retrying"`
	ByType   map[models.EntityType]int `json:"by_type" yaml:"by_type"`
	Oldest   time.Time                 `json:"oldest,omitempty" yaml:"oldest,omitempty"`
}

// Stats returns queue statistics.
func (q *Outbox) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	stats := Stats{Total: len(q.items), ByType: make(map[models.EntityType]int)}
	for _, item := range q.items {
		if item.Ready(now) {
			stats.Ready++
		}
		if item.RetryCount > 0 {
			stats.Retrying++
		}
		stats.ByType[item.EntityType]++
	}
	if len(q.items) > 0 {
		stats.Oldest = q.items[0].EnqueuedAt
	}
	return stats
}

func (q *Outbox) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Outbox) persistLocked(ctx context.Context) error {
	items := q.items
	if items == nil {
		items = []models.OutboxItem{}
	}
	blob, err := json.Marshal(items)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode outbox", err)
	}
	if err := q.store.Set(ctx, StateKey, blob); err != nil {
		q.log.ErrorWithCode("outbox persist failed", string(apperrors.ErrStorage), err)
		return apperrors.Wrap(apperrors.ErrStorage, "persist outbox", err)
	}
	return nil
}
