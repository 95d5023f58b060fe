// SPDX-License-Identifier: Apache-2.0

package token

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openlark/sdk-go/clock"
	"github.com/openlark/sdk-go/token/event"
)

// Option configures a Manager at construction time.
type Option interface {
	apply(*Manager) error
}

type optionFunc func(*Manager) error

func (f optionFunc) apply(m *Manager) error { return f(m) }

type nilOptionFunc func(*Manager)

func (f nilOptionFunc) apply(m *Manager) error {
	f(m)
	return nil
}

// AppID is the application id used to mint and key every token. Required.
func AppID(id string) Option {
	return nilOptionFunc(func(m *Manager) { m.appID = id })
}

// AppSecret is the application secret paired with AppID. Required.
func AppSecret(secret string) Option {
	return nilOptionFunc(func(m *Manager) { m.appSecret = secret })
}

// BaseURL is the platform's API base, e.g. "https://open.example.com".
// Endpoint paths are appended verbatim; never include a trailing slash.
// Required.
func BaseURL(url string) Option {
	return nilOptionFunc(func(m *Manager) { m.baseURL = url })
}

// WithFlavor sets whether the application is self-built or marketplace.
// Defaults to FlavorSelfBuilt.
func WithFlavor(f Flavor) Option {
	return nilOptionFunc(func(m *Manager) { m.flavor = f })
}

// HTTPClient is the client used for every token fetch. A nil client
// resets to http.DefaultClient.
func HTTPClient(client *http.Client) Option {
	return nilOptionFunc(func(m *Manager) {
		if client == nil {
			client = http.DefaultClient
		}
		m.client = client
	})
}

// SafetyDelta overrides the default safety margin subtracted from every
// server-reported token lifetime. The default is clock.DefaultSafetyDelta.
func SafetyDelta(d time.Duration) Option {
	return nilOptionFunc(func(m *Manager) { m.safetyDelta = d })
}

// WithClock overrides the manager's time source. Intended for tests.
func WithClock(c clock.Clock) Option {
	return nilOptionFunc(func(m *Manager) {
		if c == nil {
			c = clock.Real{}
		}
		m.clk = c
	})
}

// WithLogger sets the logger used for warmer and fetch diagnostics. A
// nil logger resets to a no-op logger. Never logs token contents.
func WithLogger(l *zap.Logger) Option {
	return nilOptionFunc(func(m *Manager) {
		if l == nil {
			l = zap.NewNop()
		}
		m.logger = l
	})
}

// WithTicketStore supplies a pre-built TicketStore, e.g. one shared
// across multiple Managers for the same app id. The default is a fresh,
// empty store private to this Manager.
func WithTicketStore(ts *TicketStore) Option {
	return nilOptionFunc(func(m *Manager) { m.tickets = ts })
}

// AddFetchListener registers a listener for wire-fetch events. If cancel
// is provided, it is set to a function that removes the listener.
func AddFetchListener(l event.FetchListener, cancel ...*event.CancelListenerFunc) Option {
	return nilOptionFunc(func(m *Manager) {
		c := m.fetchListeners.Add(l)
		if len(cancel) > 0 && cancel[0] != nil {
			*cancel[0] = event.CancelListenerFunc(c)
		}
	})
}

// AddDecorateListener registers a listener for cache-hit/miss decoration
// events.
func AddDecorateListener(l event.DecorateListener, cancel ...*event.CancelListenerFunc) Option {
	return nilOptionFunc(func(m *Manager) {
		c := m.decorateListeners.Add(l)
		if len(cancel) > 0 && cancel[0] != nil {
			*cancel[0] = event.CancelListenerFunc(c)
		}
	})
}

// AddWarmListener registers a listener for background-warmer sweep
// completions.
func AddWarmListener(l event.WarmListener, cancel ...*event.CancelListenerFunc) Option {
	return nilOptionFunc(func(m *Manager) {
		c := m.warmListeners.Add(l)
		if len(cancel) > 0 && cancel[0] != nil {
			*cancel[0] = event.CancelListenerFunc(c)
		}
	})
}
