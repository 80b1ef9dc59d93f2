// Package telemetry keeps in-process sync counters. Nothing here leaves
// the process; the CLI and the websocket hub read the snapshot.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// Counter names.
const (
	DrainPasses    = "drain_passes"
	DrainSkipped   = "drain_skipped_offline"
	ItemsSynced    = "items_synced"
	ItemsRetried   = "items_retried"
	ItemsDropped   = "items_dropped"
	IDsReconciled  = "ids_reconciled"
	ItemsEnqueued  = "items_enqueued"
	CacheFallbacks = "cache_fallbacks"
	RemoteFailures = "remote_failures"
)

// Registry holds named counters and the last recorded timing per name.
type Registry struct {
	mu      sync.Mutex
	counts  map[string]int64
	timings map[string]time.Duration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counts:  make(map[string]int64),
		timings: make(map[string]time.Duration),
	}
}

// RecordCount adds delta to the named counter. A nil Registry ignores it.
func (r *Registry) RecordCount(name string, delta int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name] += int64(delta)
}

// Inc adds one to the named counter.
func (r *Registry) Inc(name string) {
	r.RecordCount(name, 1)
}

// RecordTiming stores the latest duration for name.
func (r *Registry) RecordTiming(name string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[name] = d
}

// Count returns the current value of a counter.
func (r *Registry) Count(name string) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// Metric is one row of a snapshot.
type Metric struct {
	Name  string `json:"name" yaml:"name"`
	Value int64  `json:"value" yaml:"value"`
}

// Snapshot returns every counter sorted by name.
func (r *Registry) Snapshot() []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Metric, 0, len(r.counts))
	for name, v := range r.counts {
		out = append(out, Metric{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LastTiming returns the latest duration recorded for name.
func (r *Registry) LastTiming(name string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.timings[name]
	return d, ok
}
