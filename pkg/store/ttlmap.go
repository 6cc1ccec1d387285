package store

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value   V
	expires time.Time // zero means no expiry
}

func (e ttlEntry[V]) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// TTLMap is a mutex-protected map whose entries expire after a time-to-live.
// Expired entries are removed lazily when they are touched, or in bulk by Purge;
// there is no background goroutine.
//
// A TTLMap is safe for concurrent use and must not be copied after first use.
type TTLMap[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]ttlEntry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// TTLOption configures a TTLMap.
type TTLOption func(*ttlOptions)

type ttlOptions struct {
	maxEntries int
	now        func() time.Time
}

// WithMaxEntries bounds the map. When an insert finds the map full, expired entries are purged
// and, if that is not enough, the entry closest to expiry is dropped.
func WithMaxEntries(n int) TTLOption {
	return func(o *ttlOptions) { o.maxEntries = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TTLOption {
	return func(o *ttlOptions) { o.now = now }
}

// NewTTLMap creates a map whose entries live for ttl. A ttl <= 0 disables expiry.
func NewTTLMap[K comparable, V any](ttl time.Duration, opts ...TTLOption) *TTLMap[K, V] {
	o := ttlOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLMap[K, V]{
		entries:    make(map[K]ttlEntry[V]),
		ttl:        ttl,
		maxEntries: o.maxEntries,
		now:        o.now,
	}
}

func (m *TTLMap[K, V]) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Get returns the live value for key.
func (m *TTLMap[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(key, m.now())
}

func (m *TTLMap[K, V]) getLocked(key K, now time.Time) (V, bool) {
	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(now) {
		delete(m.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the map's default TTL.
func (m *TTLMap[K, V]) Set(key K, value V) {
	m.SetWithTTL(key, value, m.ttl)
}

// SetWithTTL stores value under key with its own TTL.
func (m *TTLMap[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.setLocked(key, value, m.expiry(now, ttl), now)
}

func (m *TTLMap[K, V]) setLocked(key K, value V, expires, now time.Time) {
	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.purgeLocked(now)
		if len(m.entries) >= m.maxEntries {
			m.evictOneLocked()
		}
	}
	m.entries[key] = ttlEntry[V]{value: value, expires: expires}
}

// SetIfAbsent stores value only when key has no live entry. It reports whether it stored.
func (m *TTLMap[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, ok := m.getLocked(key, now); ok {
		return false
	}
	m.setLocked(key, value, m.expiry(now, ttl), now)
	return true
}

// GetOrCreate returns the live value for key, creating it with create when absent or expired.
// create runs under the map lock and must not call back into the map.
func (m *TTLMap[K, V]) GetOrCreate(key K, create func() V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if v, ok := m.getLocked(key, now); ok {
		return v
	}
	v := create()
	m.setLocked(key, v, m.expiry(now, m.ttl), now)
	return v
}

// Touch extends the life of a live entry by the map's TTL.
func (m *TTLMap[K, V]) Touch(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		delete(m.entries, key)
		return false
	}
	e.expires = m.expiry(now, m.ttl)
	m.entries[key] = e
	return true
}

// Delete removes key.
func (m *TTLMap[K, V]) Delete(key K) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of entries, including expired ones not yet removed.
func (m *TTLMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Purge removes every expired entry and returns how many were removed.
func (m *TTLMap[K, V]) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(m.now())
}

func (m *TTLMap[K, V]) purgeLocked(now time.Time) int {
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// evictOneLocked drops the entry that expires first. Entries without expiry go last.
func (m *TTLMap[K, V]) evictOneLocked() {
	var (
		victim K
		soon   time.Time
		found  bool
	)
	for k, e := range m.entries {
		if !found || (!e.expires.IsZero() && (soon.IsZero() || e.expires.Before(soon))) {
			victim, soon, found = k, e.expires, true
		}
	}
	if found {
		delete(m.entries, victim)
	}
}
