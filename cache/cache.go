// SPDX-License-Identifier: Apache-2.0

// Package cache implements the expiring, concurrent key-value store that
// backs the credential manager (and its ticket store). It is a plain
// sync.RWMutex-guarded map rather than a sync.Map: writers (refreshes)
// are rare and readers are hot, and an RWMutex gives predictable control
// over TTL semantics the way sync.Map's lock-free fast path does not.
package cache

import (
	"sync"
	"time"

	"github.com/openlark/sdk-go/clock"
)

// Entry is one cache slot: the value plus the bookkeeping spec.md's data
// model names for it.
type Entry[V any] struct {
	Value      V
	ExpiresAt  time.Time
	InsertedAt time.Time
}

// Cache is a generic, TTL-expiring, concurrency-safe map keyed by string.
// Expired entries are never returned by Get/GetWithExpiry (lazy expiry);
// no background eviction goroutine is run.
type Cache[V any] struct {
	mu    sync.RWMutex
	clock clock.Clock
	delta time.Duration
	items map[string]Entry[V]

	// locks counts read/write lock acquisitions, for component H's
	// metrics snapshot. Nil is fine (no-op) so callers that don't care
	// about lock metrics don't need to wire one up.
	locks LockCounter
}

// LockCounter receives a notification on every read or write lock
// acquisition against a Cache. Implemented by metrics.Counters.
type LockCounter interface {
	ReadLockAcquired()
	WriteLockAcquired()
}

// New creates an empty Cache using the given clock and safety delta. A
// nil clock defaults to clock.Real{}.
func New[V any](c clock.Clock, safetyDelta time.Duration) *Cache[V] {
	if c == nil {
		c = clock.Real{}
	}
	return &Cache[V]{
		clock: c,
		delta: safetyDelta,
		items: make(map[string]Entry[V]),
	}
}

// WithLockCounter attaches a LockCounter that is notified on every lock
// acquisition. Returns the same Cache for chaining at construction time.
func (c *Cache[V]) WithLockCounter(lc LockCounter) *Cache[V] {
	c.locks = lc
	return c
}

func (c *Cache[V]) rlock() {
	c.mu.RLock()
	if c.locks != nil {
		c.locks.ReadLockAcquired()
	}
}

func (c *Cache[V]) runlock() { c.mu.RUnlock() }

func (c *Cache[V]) lock() {
	c.mu.Lock()
	if c.locks != nil {
		c.locks.WriteLockAcquired()
	}
}

func (c *Cache[V]) unlock() { c.mu.Unlock() }

// Get returns the cached value for key, iff it is present and not yet
// expired at the current clock time.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.rlock()
	defer c.runlock()

	e, ok := c.items[key]
	if !ok || !c.clock.Now().Before(e.ExpiresAt) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// GetWithExpiry is Get but also returns the entry's expiry instant.
func (c *Cache[V]) GetWithExpiry(key string) (Entry[V], bool) {
	c.rlock()
	defer c.runlock()

	e, ok := c.items[key]
	if !ok || !c.clock.Now().Before(e.ExpiresAt) {
		return Entry[V]{}, false
	}
	return e, true
}

// Set stores value under key with the given TTL, computing
// expires_at = now() + ttl - safety_delta per spec.md §4.C.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	now := c.clock.Now()
	expiresAt := now.Add(ttl - c.delta)

	c.lock()
	defer c.unlock()

	c.items[key] = Entry[V]{
		Value:      value,
		ExpiresAt:  expiresAt,
		InsertedAt: now,
	}
}

// Delete removes key, if present. Deleting an absent key is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.lock()
	defer c.unlock()
	delete(c.items, key)
}

// ExpiringWithin returns the keys (among those listed) whose entries are
// absent or expire within threshold of now. Used only by the credential
// manager's warmer to decide what to preheat; it is intentionally not a
// general iteration API so callers outside this package cannot depend on
// cache internals (spec.md §9 open question (a)).
func (c *Cache[V]) ExpiringWithin(keys []string, threshold time.Duration) []string {
	now := c.clock.Now()

	c.rlock()
	defer c.runlock()

	var due []string
	for _, k := range keys {
		e, ok := c.items[k]
		if !ok || clock.ExpiresWithin(now, e.ExpiresAt, threshold) {
			due = append(due, k)
		}
	}
	return due
}
