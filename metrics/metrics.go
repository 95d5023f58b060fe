// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the lock-free counters and per-request span
// shape for component H: cache hit/miss counts, refresh success/failure
// counts, and read/write lock acquisitions, plus derived hit/success
// rates. Grounded on the atomic-counter + derived-rate shape of
// O-tero-Distributed-Caching-System's cache-manager Metrics struct,
// extended with the lock-acquisition fields the original open-lark
// token manager tracks (read_lock_acquisitions/write_lock_acquisitions)
// that spec.md's distillation keeps as a schema field without a
// scenario exercising it.
package metrics

import "sync/atomic"

// Counters are the atomic, lock-free counters backing Snapshot. The zero
// value is ready to use.
type Counters struct {
	appCacheHits      atomic.Int64
	appCacheMisses    atomic.Int64
	tenantCacheHits   atomic.Int64
	tenantCacheMisses atomic.Int64

	refreshSuccesses atomic.Int64
	refreshFailures  atomic.Int64

	requestSuccesses atomic.Int64
	requestFailures  atomic.Int64

	readLockAcquisitions  atomic.Int64
	writeLockAcquisitions atomic.Int64
}

// ReadLockAcquired implements cache.LockCounter.
func (c *Counters) ReadLockAcquired() { c.readLockAcquisitions.Add(1) }

// WriteLockAcquired implements cache.LockCounter.
func (c *Counters) WriteLockAcquired() { c.writeLockAcquisitions.Add(1) }

// AppCacheHit/AppCacheMiss/TenantCacheHit/TenantCacheMiss are called
// exactly once per get_*_token call, at whichever point it terminates
// (fast-path hit, slow-path double-checked hit, or slow-path miss) —
// per spec.md §9's decision to count each path exactly once rather than
// the original's fetch_sub "conversion" of a miss into a hit.
func (c *Counters) AppCacheHit()     { c.appCacheHits.Add(1) }
func (c *Counters) AppCacheMiss()    { c.appCacheMisses.Add(1) }
func (c *Counters) TenantCacheHit()  { c.tenantCacheHits.Add(1) }
func (c *Counters) TenantCacheMiss() { c.tenantCacheMisses.Add(1) }

func (c *Counters) RefreshSuccess() { c.refreshSuccesses.Add(1) }
func (c *Counters) RefreshFailure() { c.refreshFailures.Add(1) }

// RequestSuccess/RequestFailure count transport-pipeline call outcomes.
// Kept distinct from RefreshSuccess/RefreshFailure (which count credential
// fetches): a Pipeline owns its own *Counters instance, separate from the
// credential manager's, so the two families never share a counter, but the
// names stay distinct too since a single Counters value could in principle
// be shared by both.
func (c *Counters) RequestSuccess() { c.requestSuccesses.Add(1) }
func (c *Counters) RequestFailure() { c.requestFailures.Add(1) }

// Snapshot is a point-in-time, immutable read of the counters plus
// derived rates.
type Snapshot struct {
	AppCacheHits      int64
	AppCacheMisses    int64
	TenantCacheHits   int64
	TenantCacheMisses int64

	RefreshSuccesses int64
	RefreshFailures  int64

	RequestSuccesses int64
	RequestFailures  int64

	ReadLockAcquisitions  int64
	WriteLockAcquisitions int64
}

// AppCacheHitRate returns hits/(hits+misses) for the app cache, or 0 if
// neither has ever been recorded (zero-total guard, grounded on the
// original token manager's app_cache_hit_rate).
func (s Snapshot) AppCacheHitRate() float64 {
	return rate(s.AppCacheHits, s.AppCacheMisses)
}

// TenantCacheHitRate is AppCacheHitRate's tenant-cache counterpart.
func (s Snapshot) TenantCacheHitRate() float64 {
	return rate(s.TenantCacheHits, s.TenantCacheMisses)
}

// RefreshSuccessRate returns successes/(successes+failures), or 0 if
// neither has ever been recorded.
func (s Snapshot) RefreshSuccessRate() float64 {
	return rate(s.RefreshSuccesses, s.RefreshFailures)
}

func rate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Snapshot reads every counter into an immutable Snapshot.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		AppCacheHits:      c.appCacheHits.Load(),
		AppCacheMisses:    c.appCacheMisses.Load(),
		TenantCacheHits:   c.tenantCacheHits.Load(),
		TenantCacheMisses: c.tenantCacheMisses.Load(),

		RefreshSuccesses: c.refreshSuccesses.Load(),
		RefreshFailures:  c.refreshFailures.Load(),

		RequestSuccesses: c.requestSuccesses.Load(),
		RequestFailures:  c.requestFailures.Load(),

		ReadLockAcquisitions:  c.readLockAcquisitions.Load(),
		WriteLockAcquisitions: c.writeLockAcquisitions.Load(),
	}
}

// Span is the per-request observability record spec.md §4.G asks each
// transport call to open: endpoint, credential_kind, cache_hit,
// duration_ms, attempt, request_id. cache_hit is recorded onto the span
// at the point of decision (the original token manager's
// current_span.record("cache_hit", ...)), not derived afterward.
type Span struct {
	Endpoint       string
	CredentialKind string
	CacheHit       bool
	DurationMS     int64
	Attempt        int
	RequestID      string
}
