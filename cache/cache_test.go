// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openlark/sdk-go/clock"
)

// TestCacheFreshness is property P1 from spec.md §8: for all k,v,ttl with
// set(k,v,ttl) at t0, get(k) returns Some(v) iff now() < t0 + ttl - delta.
func TestCacheFreshness(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	c := New[string](fake, 180*time.Second)

	c.Set("k", "v", 3600*time.Second)

	fake.Set(start.Add(3419 * time.Second))
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	fake.Set(start.Add(3420 * time.Second))
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestGetAbsent(t *testing.T) {
	c := New[string](nil, 0)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	c := New[string](nil, 0)
	c.Set("k", "v", time.Hour)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)

	// deleting an absent key is a no-op
	c.Delete("missing")
}

func TestGetWithExpiry(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	c := New[string](fake, 0)

	c.Set("k", "v", time.Hour)
	e, ok := c.GetWithExpiry("k")
	assert.True(t, ok)
	assert.Equal(t, start.Add(time.Hour), e.ExpiresAt)
	assert.Equal(t, start, e.InsertedAt)
}

func TestExpiringWithin(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	c := New[int](fake, 0)

	c.Set("fresh", 1, time.Hour)
	c.Set("expiring", 2, 5*time.Minute)
	// "absent" is never set.

	due := c.ExpiringWithin([]string{"fresh", "expiring", "absent"}, 15*time.Minute)
	assert.ElementsMatch(t, []string{"expiring", "absent"}, due)
}

// TestIsolation is property P8: different keys never collide.
func TestIsolation(t *testing.T) {
	c := New[string](nil, 0)
	c.Set("app_access-APPX", "tokA", time.Hour)
	c.Set("app_access-APPX-TEN1", "tokB", time.Hour)
	c.Set("app_access-APPY", "tokC", time.Hour)

	a, _ := c.Get("app_access-APPX")
	b, _ := c.Get("app_access-APPX-TEN1")
	cc, _ := c.Get("app_access-APPY")

	assert.Equal(t, "tokA", a)
	assert.Equal(t, "tokB", b)
	assert.Equal(t, "tokC", cc)
}

type lockSpy struct {
	reads, writes int
}

func (l *lockSpy) ReadLockAcquired()  { l.reads++ }
func (l *lockSpy) WriteLockAcquired() { l.writes++ }

func TestLockCounter(t *testing.T) {
	spy := &lockSpy{}
	c := New[string](nil, 0).WithLockCounter(spy)

	c.Set("k", "v", time.Hour)
	_, _ = c.Get("k")
	_, _ = c.GetWithExpiry("k")
	c.Delete("k")

	assert.Equal(t, 2, spy.reads)
	assert.Equal(t, 2, spy.writes)
}
