// Package connectivity tracks whether the backend is reachable and tells
// subscribers when that changes.
package connectivity

import (
	"sync"

	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
)

// Transition is an edge in the online state.
type Transition int

const (
	BecameOnline Transition = iota + 1
	BecameOffline
)

func (t Transition) String() string {
	switch t {
	case BecameOnline:
		return "became_online"
	case BecameOffline:
		return "became_offline"
	}
	return "unknown"
}

// Monitor holds the current connectivity state. Subscribers are called
// only when the state actually changes, in subscription order, and never
// while the state lock is held.
type Monitor struct {
	notifyMu sync.Mutex // serializes SetOnline so notifications keep state order
	mu       sync.RWMutex
	online   bool
	subs     map[int]func(Transition)
	order    []int
	nextID   int
	log      *logging.Logger
}

// NewMonitor creates a Monitor in the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]func(Transition)),
		log:    logging.Get().With("connectivity"),
	}
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a connectivity signal from the environment.
func (m *Monitor) SetOnline(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(Transition), 0, len(m.order))
	for _, id := range m.order {
		subs = append(subs, m.subs[id])
	}
	m.mu.Unlock()

	t := BecameOffline
	if online {
		t = BecameOnline
	}
	m.log.Info("connectivity changed", logging.Fields{"transition": t.String()})
	for _, fn := range subs {
		fn(t)
	}
}

// Subscribe registers fn for future transitions. The returned function
// removes the subscription and is safe to call more than once.
func (m *Monitor) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.order = append(m.order, id)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; !ok {
			return
		}
		delete(m.subs, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}
