// Package cache implements the namespaced read-through/write-through cache
// that entity reads fall back to when the backend cannot be reached.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
)

// KeyPrefix starts every persisted cache key.
const KeyPrefix = "cache:"

// Key builds the persisted key "cache:{namespace}:{key}".
func Key(namespace, key string) string {
	return KeyPrefix + namespace + ":" + key
}

// NamespacePrefix is the persisted prefix of every key under namespace.
func NamespacePrefix(namespace string) string {
	return KeyPrefix + namespace + ":"
}

// Cache is a namespaced key-value cache over a storage.Store. Writes are
// best effort: failures are logged and never returned. Reads never touch
// the network.
type Cache struct {
	store storage.Store
	log   *logging.Logger
	now   func() time.Time
}

// New creates a Cache over store.
func New(store storage.Store) *Cache {
	return &Cache{
		store: store,
		log:   logging.Get().With("cache"),
		now:   time.Now,
	}
}

// Put replaces the value under namespace/key.
func (c *Cache) Put(ctx context.Context, namespace, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache value not serializable", logging.Fields{"namespace": namespace, "key": key, "error": err.Error()})
		return
	}
	record := models.CacheRecord{
		Namespace:     namespace,
		Key:           key,
		Data:          data,
		StoredAt:      c.now().UTC(),
		SchemaVersion: models.CacheSchemaVersion,
	}
	blob, err := json.Marshal(record)
	if err != nil {
		c.log.Warn("cache record not serializable", logging.Fields{"namespace": namespace, "key": key, "error": err.Error()})
		return
	}
	if err := c.store.Set(ctx, Key(namespace, key), blob); err != nil {
		c.log.Error("cache write failed", err, logging.Fields{"namespace": namespace, "key": key})
	}
}

// Record returns the full envelope under namespace/key. Missing, corrupted
// and schema-mismatched entries all report absent.
func (c *Cache) Record(ctx context.Context, namespace, key string) (*models.CacheRecord, bool) {
	blob, err := c.store.Get(ctx, Key(namespace, key))
	if err != nil {
		if !storage.IsNotFound(err) {
			c.log.Warn("cache read failed", logging.Fields{"namespace": namespace, "key": key, "error": err.Error()})
		}
		return nil, false
	}
	return c.decode(namespace, key, blob)
}

func (c *Cache) decode(namespace, key string, blob []byte) (*models.CacheRecord, bool) {
	var record models.CacheRecord
	if err := json.Unmarshal(blob, &record); err != nil || len(record.Data) == 0 || !json.Valid(record.Data) {
		reason := "empty data"
		if err != nil {
			reason = err.Error()
		}
		c.log.Warn("corrupted cache entry treated as miss", logging.Fields{"namespace": namespace, "key": key, "error": reason})
		return nil, false
	}
	if record.SchemaVersion != models.CacheSchemaVersion {
		c.log.Warn("stale cache schema treated as miss", logging.Fields{
			"namespace": namespace, "key": key, "schema_version": record.SchemaVersion,
		})
		return nil, false
	}
	return &record, true
}

// Get returns the cached value under namespace/key.
func (c *Cache) Get(ctx context.Context, namespace, key string) (json.RawMessage, bool) {
	record, ok := c.Record(ctx, namespace, key)
	if !ok {
		return nil, false
	}
	return record.Data, true
}

// GetEntity decodes the cached value as an entity.
func (c *Cache) GetEntity(ctx context.Context, namespace, key string) (models.Entity, bool) {
	data, ok := c.Get(ctx, namespace, key)
	if !ok {
		return nil, false
	}
	entity, err := models.DecodeEntity(data)
	if err != nil {
		c.log.Warn("cached value is not an entity", logging.Fields{"namespace": namespace, "key": key, "error": err.Error()})
		return nil, false
	}
	return entity, true
}

// Delete removes one entry.
func (c *Cache) Delete(ctx context.Context, namespace, key string) {
	if err := c.store.Delete(ctx, Key(namespace, key)); err != nil {
		c.log.Error("cache delete failed", err, logging.Fields{"namespace": namespace, "key": key})
	}
}

// Clear removes every entry under namespace and reports how many went.
func (c *Cache) Clear(ctx context.Context, namespace string) (int, error) {
	n, err := c.store.DeletePrefix(ctx, NamespacePrefix(namespace))
	if err != nil {
		return 0, err
	}
	c.log.Info("cache namespace cleared", logging.Fields{"namespace": namespace, "removed": n})
	return n, nil
}

// Keys lists the keys stored under namespace, without the prefix.
func (c *Cache) Keys(ctx context.Context, namespace string) ([]string, error) {
	prefix := NamespacePrefix(namespace)
	full, err := c.store.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	return keys, nil
}

// Rewrite passes every valid record under namespace to fn. When fn returns
// true the returned data replaces the record. It reports how many records
// changed.
func (c *Cache) Rewrite(ctx context.Context, namespace string, fn func(key string, data json.RawMessage) (json.RawMessage, bool)) int {
	keys, err := c.Keys(ctx, namespace)
	if err != nil {
		c.log.Error("cache scan failed", err, logging.Fields{"namespace": namespace})
		return 0
	}
	changed := 0
	for _, key := range keys {
		data, ok := c.Get(ctx, namespace, key)
		if !ok {
			continue
		}
		if updated, ok := fn(key, data); ok {
			c.Put(ctx, namespace, key, updated)
			changed++
		}
	}
	return changed
}
