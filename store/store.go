// Package store provides the process-local entry store that backs the
// versioned cache. It knows nothing about versions or remote state: keys are
// already-resolved effective keys.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Never is the ExpireAt sentinel for entries that do not expire.
const Never int64 = -1

// NoExpiry is the TTL that stores an entry without expiration. Any TTL <= 0
// is treated the same way.
const NoExpiry time.Duration = -1

const shardCount = 32

// Entry is a single cached value.
type Entry struct {
	Value any
	// ExpireAt is the absolute expiry in unix milliseconds, or Never.
	ExpireAt int64
}

// Expired reports whether the entry has a finite expiry at or before nowMs.
func (e *Entry) Expired(nowMs int64) bool {
	return e.ExpireAt != Never && e.ExpireAt <= nowMs
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Local is a sharded in-memory map from effective key to Entry. All methods
// are safe for concurrent use and never block on anything but a shard lock.
type Local struct {
	shards  [shardCount]*shard
	size    atomic.Int64
	max     int64
	nowFunc func() time.Time // for testing; defaults to time.Now
}

// New creates a Local store that admits at most maxEntries entries. A
// non-positive maxEntries disables the limit.
func New(maxEntries int) *Local {
	l := &Local{
		max:     int64(maxEntries),
		nowFunc: time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	return l
}

func (l *Local) shardFor(key string) *shard {
	return l.shards[xxhash.Sum64String(key)%shardCount]
}

// Put stores value under key. It returns false without touching the store
// when the store is full. The size check is a plain read, so concurrent
// writers may overshoot the limit slightly.
func (l *Local) Put(key string, value any, ttl time.Duration) bool {
	if l.max > 0 && l.size.Load() >= l.max {
		return false
	}

	ent := &Entry{Value: value, ExpireAt: Never}
	if ttl > 0 {
		ent.ExpireAt = l.now().Add(ttl).UnixMilli()
	}

	s := l.shardFor(key)
	s.mu.Lock()
	if _, ok := s.entries[key]; !ok {
		l.size.Add(1)
	}
	s.entries[key] = ent
	s.mu.Unlock()
	return true
}

// Get returns the value stored under key. Expiry is not checked here; expired
// entries stay readable until the next sweep removes them.
func (l *Local) Get(key string) (any, bool) {
	s := l.shardFor(key)
	s.mu.RLock()
	ent, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ent.Value, true
}

// Entry returns a copy of the entry stored under key.
func (l *Local) Entry(key string) (Entry, bool) {
	s := l.shardFor(key)
	s.mu.RLock()
	ent, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return *ent, true
}

// Remove deletes key. Removing a missing key is a no-op.
func (l *Local) Remove(key string) bool {
	s := l.shardFor(key)
	s.mu.Lock()
	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
		l.size.Add(-1)
	}
	s.mu.Unlock()
	return ok
}

// RemoveExpired deletes every entry whose finite expiry is at or before now
// and returns how many were removed. Shards are scanned one at a time so
// readers of other shards are never held up.
func (l *Local) RemoveExpired(now time.Time) int {
	nowMs := now.UnixMilli()
	removed := 0
	for _, s := range l.shards {
		n := 0
		s.mu.Lock()
		for k, ent := range s.entries {
			if ent.Expired(nowMs) {
				delete(s.entries, k)
				n++
			}
		}
		s.mu.Unlock()
		l.size.Add(-int64(n))
		removed += n
	}
	return removed
}

// Len returns the number of stored entries.
func (l *Local) Len() int {
	return int(l.size.Load())
}

// Cap returns the configured maximum, or 0 when unlimited.
func (l *Local) Cap() int {
	if l.max <= 0 {
		return 0
	}
	return int(l.max)
}

func (l *Local) now() time.Time {
	if l.nowFunc != nil {
		return l.nowFunc()
	}
	return time.Now()
}
