// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openlark/sdk-go/token/event"
)

// WarmerConfig configures the optional background warmer (spec.md §4.F).
type WarmerConfig struct {
	// CheckInterval is the period between sweeps. Default 30 minutes.
	CheckInterval time.Duration

	// PreheatThreshold triggers a refresh when a token's remaining
	// lifetime drops below this. Default 15 minutes.
	PreheatThreshold time.Duration

	// EnableTenantPreheating also sweeps tenant keys observed via
	// GetTenantToken. It is used as given: the zero value (false)
	// disables tenant preheating.
	EnableTenantPreheating bool

	// MaxConcurrentPreheat caps how many tenant keys are refreshed per
	// sweep; the app key, when due, is refreshed in addition. Default 3.
	MaxConcurrentPreheat int
}

// defaultWarmerConfig fills a non-positive CheckInterval (30 minutes),
// PreheatThreshold (15 minutes) or MaxConcurrentPreheat (3) with its
// default. EnableTenantPreheating is left unchanged.
func defaultWarmerConfig(cfg WarmerConfig) WarmerConfig {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Minute
	}
	if cfg.PreheatThreshold <= 0 {
		cfg.PreheatThreshold = 15 * time.Minute
	}
	if cfg.MaxConcurrentPreheat <= 0 {
		cfg.MaxConcurrentPreheat = 3
	}
	return cfg
}

// StartWarmer starts the background warmer with cfg. Starting a second
// one replaces (stops) the first, per spec.md's lifecycle note and
// property P5 (starting twice leaves exactly one task running).
func (m *Manager) StartWarmer(cfg WarmerConfig) {
	m.warmerMu.Lock()
	defer m.warmerMu.Unlock()

	if m.warmerCancel != nil {
		m.warmerCancel()
		m.wg.Wait()
	}

	m.warmerCfg = defaultWarmerConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	m.warmerCancel = cancel

	m.wg.Add(1)
	go m.runWarmer(ctx)
}

// StopWarmer stops the background warmer, if running. Safe to call any
// number of times, including when no warmer is running.
func (m *Manager) StopWarmer() {
	m.warmerMu.Lock()
	cancel := m.warmerCancel
	m.warmerCancel = nil
	m.warmerMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Manager) runWarmer(ctx context.Context) {
	defer m.wg.Done()

	m.warmerMu.Lock()
	cfg := m.warmerCfg
	m.warmerMu.Unlock()

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx, cfg)
		}
	}
}

// sweep runs one warmer pass: refresh the app key if it is absent or
// expiring soon, then — if tenant preheating is enabled — refresh up to
// MaxConcurrentPreheat expiring tenant keys. Errors are logged, never
// propagated (spec.md §4.F: "The warmer logs but never propagates
// errors").
func (m *Manager) sweep(ctx context.Context, cfg WarmerConfig) {
	var refreshed []string
	errs := map[string]error{}

	due := m.cache.ExpiringWithin([]string{appKey(m.appID)}, cfg.PreheatThreshold)
	if len(due) > 0 {
		// GetAppToken's fast path returns the cached token unconditionally
		// whenever it is merely unexpired, which is exactly the entry
		// ExpiringWithin just flagged as due. Drop it first so the call
		// takes the slow path and actually fetches, the way the teacher's
		// credentials.run loop calls fetch directly instead of through a
		// cache-hit fast path.
		m.InvalidateApp()
		if _, err := m.GetAppToken(ctx, ""); err != nil {
			errs[appKey(m.appID)] = err
			m.logger.Warn("warmer: app token preheat failed", zap.Error(err))
		} else {
			refreshed = append(refreshed, appKey(m.appID))
		}
	}

	if cfg.EnableTenantPreheating {
		tenantIDs := m.knownTenantKeys()
		keys := make([]string, len(tenantIDs))
		for i, id := range tenantIDs {
			keys[i] = tenantKey(m.appID, id)
		}

		dueTenants := m.cache.ExpiringWithin(keys, cfg.PreheatThreshold)
		if len(dueTenants) > cfg.MaxConcurrentPreheat {
			dueTenants = dueTenants[:cfg.MaxConcurrentPreheat]
		}

		for _, k := range dueTenants {
			id := tenantIDFromKey(m.appID, k)
			m.InvalidateTenant(id)
			if _, err := m.GetTenantToken(ctx, id, ""); err != nil {
				errs[k] = err
				m.logger.Warn("warmer: tenant token preheat failed", zap.String("tenant_key", id), zap.Error(err))
			} else {
				refreshed = append(refreshed, k)
			}
		}
	}

	m.warmListeners.Visit(func(l event.WarmListener) {
		l.OnWarm(event.Warm{Refreshed: refreshed, Errs: errs})
	})
}

func tenantIDFromKey(appID, key string) string {
	prefix := tenantKey(appID, "")
	if len(key) > len(prefix) {
		return key[len(prefix):]
	}
	return ""
}
