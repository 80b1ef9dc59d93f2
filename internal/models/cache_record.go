package models

import (
	"encoding/json"
	"time"
)

// CacheSchemaVersion is written into every cache record. Records carrying
// another version are treated as misses.
const CacheSchemaVersion = 1

// CacheRecord is the persisted envelope around a cached value.
type CacheRecord struct {
	Namespace     string          `json:"namespace"`
	Key           string          `json:"key"`
	Data          json.RawMessage `json:"data"`
	StoredAt      time.Time       `json:"stored_at"`
	SchemaVersion int             `json:"schema_version"`
}
