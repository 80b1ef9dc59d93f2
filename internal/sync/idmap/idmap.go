// Package idmap remembers which backend id replaced each temporary id
// handed out for an offline create.
package idmap

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
	"github.com/RMMwalali/kraftbasic-sub001/internal/uuid"
)

// StateKey is where the mapping is persisted.
const StateKey = "idmap:state"

// Map is a persisted temp id to real id mapping.
type Map struct {
	mu    sync.RWMutex
	store storage.Store
	ids   map[string]string
	log   *logging.Logger
}

// New creates an empty Map over store.
func New(store storage.Store) *Map {
	return &Map{
		store: store,
		ids:   make(map[string]string),
		log:   logging.Get().With("idmap"),
	}
}

// Load restores the persisted mapping. A corrupted blob yields an empty map.
func (m *Map) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, err := m.store.Get(ctx, StateKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return apperrors.Wrap(apperrors.ErrStorage, "load id map", err)
	}
	ids := make(map[string]string)
	if err := json.Unmarshal(blob, &ids); err != nil {
		m.log.Warn("corrupted id map, starting empty", logging.Fields{"error": err.Error()})
		return nil
	}
	m.ids = ids
	return nil
}

// Record maps tempID to realID and persists the mapping.
func (m *Map) Record(ctx context.Context, tempID, realID string) error {
	if !uuid.IsTemp(tempID) {
		return apperrors.Newf(apperrors.ErrInvalid, "%q is not a temporary id", tempID)
	}
	if realID == "" || uuid.IsTemp(realID) {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid backend id %q", realID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ids[tempID] = realID
	blob, err := json.Marshal(m.ids)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode id map", err)
	}
	if err := m.store.Set(ctx, StateKey, blob); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "persist id map", err)
	}
	return nil
}

// Lookup returns the real id recorded for tempID.
func (m *Map) Lookup(tempID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	realID, ok := m.ids[tempID]
	return realID, ok
}

// Resolve returns the real id for id when one is known, else id.
func (m *Map) Resolve(id string) string {
	if !uuid.IsTemp(id) {
		return id
	}
	if realID, ok := m.Lookup(id); ok {
		return realID
	}
	return id
}

// Len returns the number of recorded mappings.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Rewrite replaces every string in the JSON document that is a mapped
// temporary id. Invalid JSON is returned unchanged.
func (m *Map) Rewrite(raw json.RawMessage) (json.RawMessage, bool) {
	return RewriteJSON(raw, func(s string) (string, bool) {
		if !uuid.IsTemp(s) {
			return "", false
		}
		return m.Lookup(s)
	})
}

// RewriteJSON walks a JSON document and replaces strings for which
// replace reports true. Numbers keep their original text.
func RewriteJSON(raw json.RawMessage, replace func(string) (string, bool)) (json.RawMessage, bool) {
	if len(raw) == 0 {
		return raw, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return raw, false
	}
	doc, changed := rewriteValue(doc, replace)
	if !changed {
		return raw, false
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return raw, false
	}
	return out, true
}

func rewriteValue(v any, replace func(string) (string, bool)) (any, bool) {
	switch val := v.(type) {
	case string:
		if to, ok := replace(val); ok {
			return to, true
		}
	case map[string]any:
		changed := false
		for k, child := range val {
			if nv, ok := rewriteValue(child, replace); ok {
				val[k] = nv
				changed = true
			}
		}
		return val, changed
	case []any:
		changed := false
		for i, child := range val {
			if nv, ok := rewriteValue(child, replace); ok {
				val[i] = nv
				changed = true
			}
		}
		return val, changed
	}
	return v, false
}
