package remote

import (
	"context"
	"sync"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/uuid"
)

// Memory is an in-process backend for one entity type. Tests use FailWith
// to simulate an unreachable or rejecting backend.
type Memory struct {
	mu         sync.Mutex
	entityType models.EntityType
	items      map[string]models.Entity
	order      []string
	err        error
	calls      int
}

// NewMemory creates an empty Memory client.
func NewMemory(t models.EntityType) *Memory {
	return &Memory{entityType: t, items: make(map[string]models.Entity)}
}

// Seed stores entities as if the backend already had them.
func (m *Memory) Seed(entities ...models.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		m.putLocked(e.Clone())
	}
}

// FailWith makes every call return err. Nil restores normal behavior.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many calls were made, including failed ones.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Len returns the number of stored entities.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Snapshot returns copies of the stored entities in insertion order.
func (m *Memory) Snapshot() []models.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Entity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id].Clone())
	}
	return out
}

func (m *Memory) begin() error {
	m.calls++
	return m.err
}

func (m *Memory) notFound(id string) error {
	return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", m.entityType, id)
}

func (m *Memory) putLocked(e models.Entity) {
	id := e.ID()
	if _, ok := m.items[id]; !ok {
		m.order = append(m.order, id)
	}
	m.items[id] = e
}

func (m *Memory) Get(_ context.Context, id string) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	e, ok := m.items[id]
	if !ok {
		return nil, m.notFound(id)
	}
	return e.Clone(), nil
}

func (m *Memory) List(_ context.Context, filter models.Filter) ([]models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	out := []models.Entity{}
	skipped := 0
	for _, id := range m.order {
		e := m.items[id]
		if !filter.Matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, e.Clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Create(_ context.Context, payload models.Entity) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	e := payload.Clone()
	if e == nil {
		e = models.Entity{}
	}
	if id := e.ID(); id == "" || uuid.IsTemp(id) {
		e[models.IDField] = uuid.New()
	} else if _, exists := m.items[id]; exists {
		return nil, apperrors.Newf(apperrors.ErrRemoteRejected, "%s %s already exists", m.entityType, id)
	}
	m.putLocked(e)
	return e.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, payload models.Entity) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	current, ok := m.items[id]
	if !ok {
		return nil, m.notFound(id)
	}
	e := current.Merge(payload)
	e[models.IDField] = id
	m.items[id] = e
	return e.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return err
	}
	if _, ok := m.items[id]; !ok {
		return m.notFound(id)
	}
	delete(m.items, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// MemoryBackend is a full set of Memory clients.
type MemoryBackend map[models.EntityType]*Memory

// NewMemoryBackend creates one Memory client per entity type.
func NewMemoryBackend() MemoryBackend {
	b := make(MemoryBackend, len(models.EntityTypes))
	for _, t := range models.EntityTypes {
		b[t] = NewMemory(t)
	}
	return b
}

// Clients returns the backend as a Clients set.
func (b MemoryBackend) Clients() Clients {
	return Clients{
		User:          b[models.EntityUser],
		Product:       b[models.EntityProduct],
		Design:        b[models.EntityDesign],
		Order:         b[models.EntityOrder],
		CartItem:      b[models.EntityCartItem],
		MessageThread: b[models.EntityMessageThread],
		Notification:  b[models.EntityNotification],
	}
}

// FailWith applies FailWith to every client.
func (b MemoryBackend) FailWith(err error) {
	for _, m := range b {
		m.FailWith(err)
	}
}
