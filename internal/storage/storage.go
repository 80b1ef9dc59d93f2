// Package storage defines the synchronous key-value persistence API the
// cache, the outbox and the id map are written to.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
)

// Store is a durable key-value store. Get returns an ErrNotFound AppError
// for missing keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and reports how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Keys lists keys starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// ErrKeyNotFound builds the error returned for a missing key.
func ErrKeyNotFound(key string) error {
	return apperrors.Newf(apperrors.ErrNotFound, "key %q not found", key)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return apperrors.Is(err, apperrors.ErrNotFound)
}

// Memory is an in-process Store. It survives nothing but is handy for
// tests and for running with persistence disabled.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound(key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }
