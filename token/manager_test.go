// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlark/sdk-go/clock"
	"github.com/openlark/sdk-go/token/event"
)

func newTestManager(t *testing.T, srv *httptest.Server, flavor Flavor, opts ...Option) *Manager {
	t.Helper()

	base := []Option{
		AppID("APPX"),
		AppSecret("secret"),
		BaseURL(srv.URL),
		WithFlavor(flavor),
		HTTPClient(srv.Client()),
	}
	m, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return m
}

// Scenario 1: self-built app token cache hit.
func TestSelfBuiltAppTokenCacheHit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := newTestManager(t, srv, FlavorSelfBuilt, WithClock(fake), SafetyDelta(180*time.Second))

	m.cache.Set(appKey("APPX"), "tokA", 3600*time.Second)

	tok, err := m.GetAppToken(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "tokA", tok)
	assert.Equal(t, int64(0), int64(atomic.LoadInt32(&calls)))
	assert.Equal(t, int64(1), m.Metrics().AppCacheHits)
}

// Scenario 2: cold fetch.
func TestColdFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, appAccessTokenInternalPath, r.URL.Path)
		w.Write([]byte(`{"code":0,"msg":"ok","app_access_token":"t1","expire":7200}`))
	}))
	defer srv.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	m := newTestManager(t, srv, FlavorSelfBuilt, WithClock(fake), SafetyDelta(180*time.Second))

	tok, err := m.GetAppToken(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "t1", tok)
	assert.Equal(t, int64(1), m.Metrics().RefreshSuccesses)

	entry, ok := m.cache.GetWithExpiry(appKey("APPX"))
	require.True(t, ok)
	assert.Equal(t, start.Add(7020*time.Second), entry.ExpiresAt)
}

// Scenario 3: marketplace missing ticket.
func TestMarketplaceMissingTicket(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, FlavorMarketplace)

	_, err := m.GetAppToken(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "App ticket is empty")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

// Scenario 4: tenant under marketplace cascades.
func TestTenantUnderMarketplaceCascades(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Path {
		case appAccessTokenPath:
			w.Write([]byte(`{"code":0,"msg":"ok","app_access_token":"A","expire":7200}`))
		case tenantAccessTokenPath:
			assert.Equal(t, "Bearer A", r.Header.Get("Authorization"))
			w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"T","expire":7200}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	m := newTestManager(t, srv, FlavorMarketplace)
	m.Tickets().Put("APPX", "tkt")

	tok, err := m.GetTenantToken(context.Background(), "TEN1", "")
	require.NoError(t, err)
	assert.Equal(t, "T", tok)

	_, ok := m.cache.Get(appKey("APPX"))
	assert.True(t, ok)
	_, ok = m.cache.Get(tenantKey("APPX", "TEN1"))
	assert.True(t, ok)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// Scenario 5: warmer refreshes an expiring token.
func TestWarmerRefreshesExpiringToken(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"code":0,"msg":"ok","app_access_token":"t2","expire":7200}`))
	}))
	defer srv.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	m := newTestManager(t, srv, FlavorSelfBuilt, WithClock(fake), SafetyDelta(0))
	defer m.Close()

	m.cache.Set(appKey("APPX"), "stale", 500*time.Second)

	done := make(chan struct{})
	var once sync.Once

	m.warmListeners.Add(event.WarmListenerFunc(func(event.Warm) {
		once.Do(func() { close(done) })
	}))

	m.StartWarmer(WarmerConfig{
		CheckInterval:    time.Millisecond,
		PreheatThreshold: 900 * time.Second,
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warmer did not sweep in time")
	}

	tok, ok := m.cache.Get(appKey("APPX"))
	require.True(t, ok)
	assert.Equal(t, "t2", tok)
}

// P2: a fetch that yields an empty token produces an error and leaves
// the cache entry absent.
func TestEmptyTokenFetchIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"ok","app_access_token":"","expire":7200}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv, FlavorSelfBuilt)

	_, err := m.GetAppToken(context.Background(), "")
	require.Error(t, err)

	_, ok := m.cache.Get(appKey("APPX"))
	assert.False(t, ok)
}

// P3: under N concurrent calls on a cold cache, the underlying fetch
// happens exactly once.
func TestSingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte(`{"code":0,"msg":"ok","app_access_token":"t1","expire":7200}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv, FlavorSelfBuilt)

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetAppToken(context.Background(), "")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "t1", results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// P8: credentials for different (app_id, tenant_key) pairs never
// collide in the cache.
func TestIsolationAcrossApps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"ok","app_access_token":"shared","expire":7200}`))
	}))
	defer srv.Close()

	m1, err := New(AppID("APP1"), AppSecret("s"), BaseURL(srv.URL), HTTPClient(srv.Client()))
	require.NoError(t, err)
	m2, err := New(AppID("APP2"), AppSecret("s"), BaseURL(srv.URL), HTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = m1.GetAppToken(context.Background(), "")
	require.NoError(t, err)
	_, err = m2.GetAppToken(context.Background(), "")
	require.NoError(t, err)

	_, ok := m1.cache.Get(appKey("APP2"))
	assert.False(t, ok)
	_, ok = m2.cache.Get(appKey("APP1"))
	assert.False(t, ok)
}

func TestRequiredOptions(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "application id")
}

func TestStopWarmerIdempotent(t *testing.T) {
	m, err := New(AppID("A"), AppSecret("s"), BaseURL("http://example.com"))
	require.NoError(t, err)

	// stopping with nothing running is safe
	m.StopWarmer()
	m.StopWarmer()
}

// P5: starting the warmer twice leaves exactly one task running.
func TestStartWarmerTwiceReplaces(t *testing.T) {
	var sweeps int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sweeps, 1)
		w.Write([]byte(`{"code":0,"msg":"ok","app_access_token":"t","expire":7200}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv, FlavorSelfBuilt)
	defer m.Close()

	m.cache.Set(appKey("APPX"), "stale", time.Second)

	m.StartWarmer(WarmerConfig{CheckInterval: 10 * time.Millisecond, PreheatThreshold: time.Hour})
	m.StartWarmer(WarmerConfig{CheckInterval: 10 * time.Millisecond, PreheatThreshold: time.Hour})

	time.Sleep(100 * time.Millisecond)
	m.StopWarmer()

	// Only one warmer goroutine should have been running: wg.Wait()
	// inside StartWarmer/StopWarmer would otherwise deadlock or race;
	// reaching here without a panic/hang demonstrates single-ownership.
	assert.True(t, atomic.LoadInt32(&sweeps) >= 1)
}

func TestFetchWireErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, FlavorSelfBuilt)
	_, err := m.GetAppToken(context.Background(), "")
	require.Error(t, err)
}

func TestGetTenantTokenRequiresKey(t *testing.T) {
	m, err := New(AppID("A"), AppSecret("s"), BaseURL("http://example.com"))
	require.NoError(t, err)

	_, err = m.GetTenantToken(context.Background(), "", "")
	require.Error(t, err)
}

func TestSelfBuiltTenantToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tenantAccessTokenInternalPath, r.URL.Path)
		w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"T","expire":7200}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv, FlavorSelfBuilt)
	tok, err := m.GetTenantToken(context.Background(), "TEN1", "")
	require.NoError(t, err)
	assert.Equal(t, "T", tok)
}

func TestServerLogicalErrorSurfacesAsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmt.Sprintf(`{"code":99991663,"msg":"internal error"}`)))
	}))
	defer srv.Close()

	m := newTestManager(t, srv, FlavorSelfBuilt)
	_, err := m.GetAppToken(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal error")
}
