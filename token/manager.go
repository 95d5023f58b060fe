// SPDX-License-Identifier: Apache-2.0

// Package token implements the credential manager — component F, the
// heart of the SDK core. It caches and refreshes short-lived app and
// tenant access tokens, single-flights concurrent fetches for the same
// key, and owns an optional background warmer that refreshes tokens
// before they expire.
//
// Grounded on xmidt-agent's internal/credentials package: the same
// functional-option constructor with required-option validators, the
// same Start/Stop-owned background goroutine, the same eventor-based
// listener registries — generalized from one fetch target and one cache
// slot to spec.md §4.F's keyed, multi-flavor, multi-kind design.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xmidt-org/eventor"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/openlark/sdk-go/cache"
	"github.com/openlark/sdk-go/clock"
	"github.com/openlark/sdk-go/metrics"
	"github.com/openlark/sdk-go/oapierr"
	"github.com/openlark/sdk-go/token/event"
)

// Flavor is whether the application is self-built (installed by a single
// tenant) or marketplace (installable by many tenants). It changes which
// of the four auth endpoints (§6) are used.
type Flavor int

const (
	FlavorSelfBuilt Flavor = iota
	FlavorMarketplace
)

func (f Flavor) String() string {
	if f == FlavorMarketplace {
		return "marketplace"
	}
	return "self_built"
}

const (
	appAccessTokenInternalPath    = "/open-apis/auth/v3/app_access_token/internal"
	appAccessTokenPath            = "/open-apis/auth/v3/app_access_token"
	tenantAccessTokenInternalPath = "/open-apis/auth/v3/tenant_access_token/internal"
	tenantAccessTokenPath         = "/open-apis/auth/v3/tenant_access_token"
)

func appKey(appID string) string {
	return "app_access-" + appID
}

func tenantKey(appID, tenantID string) string {
	return "app_access-" + appID + "-" + tenantID
}

// Manager is the credential manager. Construct with New.
type Manager struct {
	appID     string
	appSecret string
	baseURL   string
	flavor    Flavor

	client      *http.Client
	clk         clock.Clock
	safetyDelta time.Duration
	logger      *zap.Logger

	cache   *cache.Cache[string]
	tickets *TicketStore
	sf      singleflight.Group
	metrics *metrics.Counters

	tenantKeysMu sync.Mutex
	tenantKeys   map[string]struct{}

	fetchListeners    eventor.Eventor[event.FetchListener]
	decorateListeners eventor.Eventor[event.DecorateListener]
	warmListeners     eventor.Eventor[event.WarmListener]

	warmerMu     sync.Mutex
	warmerCfg    WarmerConfig
	warmerCancel context.CancelFunc
	wg           sync.WaitGroup
}

// New constructs a Manager. AppID, AppSecret, and BaseURL are required.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		client:      http.DefaultClient,
		clk:         clock.Real{},
		safetyDelta: clock.DefaultSafetyDelta,
		logger:      zap.NewNop(),
		metrics:     &metrics.Counters{},
		tenantKeys:  make(map[string]struct{}),
	}

	all := append(append([]Option{}, opts...), requiredOptions()...)
	for _, opt := range all {
		if opt == nil {
			continue
		}
		if err := opt.apply(m); err != nil {
			return nil, err
		}
	}

	m.cache = cache.New[string](m.clk, m.safetyDelta).WithLockCounter(m.metrics)
	if m.tickets == nil {
		m.tickets = NewTicketStore(m.clk)
	}

	return m, nil
}

// Close stops the background warmer, if any is running, and releases no
// other resources (the cache and ticket store are plain in-memory maps).
func (m *Manager) Close() {
	m.StopWarmer()
}

// Metrics returns a point-in-time snapshot of the manager's counters.
func (m *Manager) Metrics() metrics.Snapshot {
	return m.metrics.Snapshot()
}

// Tickets exposes the manager's application-ticket store, so an external
// event-stream consumer (out of scope for this core, per spec.md §1) can
// push newly-issued tickets in.
func (m *Manager) Tickets() *TicketStore {
	return m.tickets
}

// GetAppToken returns a cached or freshly-fetched app-level token. If
// appTicket is non-empty it is used (and not persisted) for a
// marketplace-flavor fetch instead of consulting the ticket store.
func (m *Manager) GetAppToken(ctx context.Context, appTicket string) (string, error) {
	key := appKey(m.appID)

	if tok, ok := m.cache.Get(key); ok && tok != "" {
		m.metrics.AppCacheHit()
		m.dispatchDecorate(event.Decorate{Key: key, Kind: "app", CacheHit: true})
		return tok, nil
	}

	// fetched is set only from inside the closure below, and the
	// closure only runs for the caller whose singleflight call actually
	// leads the group; a coalesced follower's own closure never runs, so
	// its own fetched stays false. That follower observes the leader's
	// fresh entry and is counted as a hit, not a second miss (P4).
	var fetched bool
	v, err, _ := m.sf.Do(key, func() (any, error) {
		// Double-checked: another caller may have just filled it while
		// we were waiting to be scheduled, or while racing to enter the
		// singleflight group.
		if tok, ok := m.cache.Get(key); ok && tok != "" {
			return tok, nil
		}

		tok, ttl, ferr := m.fetchAppToken(ctx, appTicket)
		if ferr != nil {
			fetched = true
			m.metrics.RefreshFailure()
			return nil, ferr
		}

		m.cache.Set(key, tok, ttl)
		fetched = true
		m.metrics.RefreshSuccess()
		return tok, nil
	})

	if err != nil {
		m.metrics.AppCacheMiss()
		m.dispatchDecorate(event.Decorate{Key: key, Kind: "app", CacheHit: false, Err: err})
		return "", err
	}

	tok := v.(string)
	if fetched {
		m.metrics.AppCacheMiss()
	} else {
		m.metrics.AppCacheHit()
	}
	m.dispatchDecorate(event.Decorate{Key: key, Kind: "app", CacheHit: !fetched})
	return tok, nil
}

// GetTenantToken returns a cached or freshly-fetched tenant-scoped token
// for tenantID.
func (m *Manager) GetTenantToken(ctx context.Context, tenantID, appTicket string) (string, error) {
	if tenantID == "" {
		return "", oapierr.Validation("tenant_key", "tenant key is required")
	}

	m.observeTenantKey(tenantID)

	key := tenantKey(m.appID, tenantID)

	if tok, ok := m.cache.Get(key); ok && tok != "" {
		m.metrics.TenantCacheHit()
		m.dispatchDecorate(event.Decorate{Key: key, Kind: "tenant", CacheHit: true})
		return tok, nil
	}

	// See GetAppToken: fetched distinguishes a singleflight leader
	// (actually fetched) from a coalesced follower (observed the
	// leader's fresh entry), so each caller is counted exactly once at
	// its own terminal decision point.
	var fetched bool
	v, err, _ := m.sf.Do(key, func() (any, error) {
		if tok, ok := m.cache.Get(key); ok && tok != "" {
			return tok, nil
		}

		tok, ttl, ferr := m.fetchTenantToken(ctx, tenantID, appTicket)
		if ferr != nil {
			fetched = true
			m.metrics.RefreshFailure()
			return nil, ferr
		}

		m.cache.Set(key, tok, ttl)
		fetched = true
		m.metrics.RefreshSuccess()
		return tok, nil
	})

	if err != nil {
		m.metrics.TenantCacheMiss()
		m.dispatchDecorate(event.Decorate{Key: key, Kind: "tenant", CacheHit: false, Err: err})
		return "", err
	}

	tok := v.(string)
	if fetched {
		m.metrics.TenantCacheMiss()
	} else {
		m.metrics.TenantCacheHit()
	}
	m.dispatchDecorate(event.Decorate{Key: key, Kind: "tenant", CacheHit: !fetched})
	return tok, nil
}

// HasAppToken reports whether an unexpired app token is currently
// cached, without triggering a fetch. The transport pipeline uses this
// immediately before GetAppToken to know whether a subsequent 401 is
// worth a cache invalidation and retry (spec.md §7 bullet 2).
func (m *Manager) HasAppToken() bool {
	_, ok := m.cache.Get(appKey(m.appID))
	return ok
}

// HasTenantToken is HasAppToken's tenant-scoped counterpart.
func (m *Manager) HasTenantToken(tenantID string) bool {
	_, ok := m.cache.Get(tenantKey(m.appID, tenantID))
	return ok
}

// InvalidateApp drops the cached app token, forcing the next
// GetAppToken call to fetch a fresh one. Used by the transport pipeline
// on a cache-hit-then-401 per spec.md §7.
func (m *Manager) InvalidateApp() {
	m.cache.Delete(appKey(m.appID))
}

// InvalidateTenant drops the cached tenant token for tenantID.
func (m *Manager) InvalidateTenant(tenantID string) {
	m.cache.Delete(tenantKey(m.appID, tenantID))
}

func (m *Manager) observeTenantKey(tenantID string) {
	m.tenantKeysMu.Lock()
	m.tenantKeys[tenantID] = struct{}{}
	m.tenantKeysMu.Unlock()
}

func (m *Manager) knownTenantKeys() []string {
	m.tenantKeysMu.Lock()
	defer m.tenantKeysMu.Unlock()

	keys := make([]string, 0, len(m.tenantKeys))
	for k := range m.tenantKeys {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) dispatchDecorate(e event.Decorate) {
	m.decorateListeners.Visit(func(l event.DecorateListener) {
		l.OnDecorate(e)
	})
}

func (m *Manager) dispatchFetch(e event.Fetch) {
	m.fetchListeners.Visit(func(l event.FetchListener) {
		l.OnFetch(e)
	})
}

// --- wire fetches ---

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	AppAccessToken    string `json:"app_access_token"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

func (m *Manager) fetchAppToken(ctx context.Context, appTicketOverride string) (string, time.Duration, error) {
	key := appKey(m.appID)

	if m.flavor == FlavorSelfBuilt {
		return m.postToken(ctx, key, "app", appAccessTokenInternalPath, nil, map[string]any{
			"app_id":     m.appID,
			"app_secret": m.appSecret,
		}, func(r tokenResponse) string { return r.AppAccessToken })
	}

	ticket := appTicketOverride
	if ticket == "" {
		var ok bool
		ticket, ok = m.tickets.Get(m.appID)
		if !ok || ticket == "" {
			err := oapierr.Auth("", "App ticket is empty")
			m.dispatchFetch(event.Fetch{Key: key, Kind: "app", At: m.clk.Now(), Err: err})
			return "", 0, err
		}
	}

	return m.postToken(ctx, key, "app", appAccessTokenPath, nil, map[string]any{
		"app_id":     m.appID,
		"app_secret": m.appSecret,
		"app_ticket": ticket,
	}, func(r tokenResponse) string { return r.AppAccessToken })
}

func (m *Manager) fetchTenantToken(ctx context.Context, tenantID, appTicketOverride string) (string, time.Duration, error) {
	key := tenantKey(m.appID, tenantID)

	if m.flavor == FlavorSelfBuilt {
		return m.postToken(ctx, key, "tenant", tenantAccessTokenInternalPath, nil, map[string]any{
			"app_id":     m.appID,
			"app_secret": m.appSecret,
		}, func(r tokenResponse) string { return r.TenantAccessToken })
	}

	appToken, err := m.GetAppToken(ctx, appTicketOverride)
	if err != nil {
		return "", 0, err
	}

	headers := map[string]string{"Authorization": "Bearer " + appToken}
	return m.postToken(ctx, key, "tenant", tenantAccessTokenPath, headers, map[string]any{
		"tenant_key": tenantID,
	}, func(r tokenResponse) string { return r.TenantAccessToken })
}

// postToken performs one POST against the auth surface and returns the
// extracted token plus its computed TTL. It never holds any lock across
// this call (spec.md §5: "no lock may span an HTTP call") — the caller,
// singleflight.Group.Do, already excludes concurrent duplicate fetches
// for the same key without holding the manager's own locks.
func (m *Manager) postToken(ctx context.Context, cacheKey, kind, path string, headers map[string]string, body map[string]any, extract func(tokenResponse) string) (string, time.Duration, error) {
	var fe event.Fetch
	fe.Key = cacheKey
	fe.Kind = kind
	fe.At = m.clk.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		fe.Err = oapierr.Validation("body", err.Error())
		m.dispatchFetch(fe)
		return "", 0, fe.Err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		fe.Err = oapierr.Transport("", err)
		m.dispatchFetch(fe)
		return "", 0, fe.Err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	tid, err := uuid.NewRandom()
	if err == nil {
		req.Header.Set("X-Request-Id", tid.String())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	fe.Duration = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			fe.Err = oapierr.Cancelled("")
		} else {
			fe.Err = oapierr.Transport("", err)
		}
		m.dispatchFetch(fe)
		return "", 0, fe.Err
	}
	defer resp.Body.Close()

	fe.StatusCode = resp.StatusCode

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fe.Err = oapierr.Transport("", err)
		m.dispatchFetch(fe)
		return "", 0, fe.Err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		fe.Err = oapierr.Auth("", "unauthorized")
		m.dispatchFetch(fe)
		return "", 0, fe.Err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		fe.Err = oapierr.Decode("", err)
		m.dispatchFetch(fe)
		return "", 0, fe.Err
	}

	if tr.Code != 0 {
		fe.Err = oapierr.Auth("", fmt.Sprintf("%s (code %d)", tr.Msg, tr.Code))
		m.dispatchFetch(fe)
		return "", 0, fe.Err
	}

	tok := extract(tr)
	// An empty token is treated as equivalent to no token at all, the
	// same defense on both ends of the fetch (spec.md §9): never store
	// it, and never consider the fetch a success.
	if tok == "" || tr.Expire <= 0 {
		fe.Err = oapierr.Auth("", "empty token returned")
		m.dispatchFetch(fe)
		return "", 0, fe.Err
	}

	ttl := time.Duration(tr.Expire) * time.Second
	fe.Expiration = clock.ApplySafetyDelta(m.clk.Now(), float64(tr.Expire), m.safetyDelta)
	m.dispatchFetch(fe)

	return tok, ttl, nil
}
