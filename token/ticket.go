// SPDX-License-Identifier: Apache-2.0

package token

import (
	"time"

	"github.com/openlark/sdk-go/cache"
	"github.com/openlark/sdk-go/clock"
)

// ticketLifetime is how long a pushed app ticket is assumed valid for if
// the out-of-band event stream never tells us otherwise. The platform
// reissues app tickets well inside this window in practice.
const ticketLifetime = 2 * time.Hour

// TicketStore is the single-slot-per-app-id cache for marketplace-flavor
// app tickets (spec.md §3 "Application ticket"). It reuses the same
// cache.Cache shape the token manager uses for tokens (component C,
// instantiated a second time) rather than a bespoke map, the same way
// the teacher reuses its eventor/option idiom across the credentials and
// jwtxt packages instead of inventing a new pattern per package.
type TicketStore struct {
	cache *cache.Cache[string]
}

// NewTicketStore builds an empty TicketStore using clk as its time source.
func NewTicketStore(clk clock.Clock) *TicketStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TicketStore{cache: cache.New[string](clk, 0)}
}

// Put stores ticket for appID, called by the out-of-scope event-stream
// consumer (or a test) whenever the platform pushes a fresh ticket.
func (t *TicketStore) Put(appID, ticket string) {
	if ticket == "" {
		return
	}
	t.cache.Set(appID, ticket, ticketLifetime)
}

// Get returns the currently known ticket for appID, if any and not
// expired.
func (t *TicketStore) Get(appID string) (string, bool) {
	return t.cache.Get(appID)
}
