// Package version holds the local view of the authoritative version record
// for every logical key the process has cached with versioning.
package version

import (
	"strings"
	"sync"
)

// Table maps logical keys to their last known version. It is seeded from
// the authoritative source at startup and then mutated by the reconciler.
// All methods are safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	versions map[string]string
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{versions: make(map[string]string)}
}

// Get returns the version for key. A blank version is reported as absent so
// that callers treat the key as unversioned.
func (t *Table) Get(key string) (string, bool) {
	t.mu.RLock()
	v, ok := t.versions[key]
	t.mu.RUnlock()
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Put records version for key and returns the previous value, if any.
func (t *Table) Put(key, version string) (string, bool) {
	t.mu.Lock()
	prev, ok := t.versions[key]
	t.versions[key] = version
	t.mu.Unlock()
	return prev, ok
}

// Load copies every entry of versions into the table.
func (t *Table) Load(versions map[string]string) {
	t.mu.Lock()
	for k, v := range versions {
		t.versions[k] = v
	}
	t.mu.Unlock()
}

// Len returns the number of tracked keys.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.versions)
}

// Snapshot returns a copy of the table.
func (t *Table) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.versions))
	for k, v := range t.versions {
		out[k] = v
	}
	return out
}

// EffectiveKey returns key suffixed with its current version, or key itself
// when no version is known.
func (t *Table) EffectiveKey(key string) string {
	if v, ok := t.Get(key); ok {
		return key + v
	}
	return key
}
