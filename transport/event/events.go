// SPDX-License-Identifier: Apache-2.0

// Package event holds the notification type transport.Pipeline dispatches
// through an eventor.Eventor registry after every request, mirroring the
// token package's own event sub-package (itself grounded on the teacher's
// credentials/event package) but at request granularity instead of
// token-fetch granularity.
package event

import "time"

// Request is dispatched once per transport.Pipeline.Do call, after the
// final attempt (successful or not), or when the call is rejected before
// its first attempt.
type Request struct {
	// Endpoint identifies the call, e.g. "POST /open-apis/im/v1/messages".
	Endpoint string

	// CredentialKind is "app", "tenant", or "user".
	CredentialKind string

	// CacheHit is true iff the credential used came from a cache hit on
	// the final attempt.
	CacheHit bool

	// Attempts is how many attempts were started, including the first;
	// 0 when the call was rejected before any attempt (no usable
	// credential kind, or URL assembly failed).
	Attempts int

	// Duration is the total wall-clock time across every attempt.
	Duration time.Duration

	// RequestID is the X-Request-Id sent with the final attempt.
	RequestID string

	// Err is non-nil when every attempt ultimately failed.
	Err error
}

// RequestListener receives Request notifications.
type RequestListener interface {
	OnRequest(Request)
}

// RequestListenerFunc adapts a function to RequestListener.
type RequestListenerFunc func(Request)

func (f RequestListenerFunc) OnRequest(e Request) { f(e) }
