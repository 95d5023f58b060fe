// SPDX-License-Identifier: Apache-2.0

// Package httpexec issues a single HTTP call and decodes the platform's
// standard response envelope. It knows nothing about credentials,
// retries, or endpoints — those are the transport pipeline's job. The
// network stack itself (timeouts, redirects, mTLS, IPv4/IPv6 dialing) is
// entirely configured on the *http.Client the caller supplies, the same
// way the teacher package configures all of that on http.Client fields
// rather than reimplementing any of it.
package httpexec

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/openlark/sdk-go/oapierr"
)

// rateLimitSentinel is the platform's documented logical code for
// throttling.
const rateLimitSentinel = 99991400

// Envelope is the standard response shape every endpoint decodes as.
type Envelope struct {
	Code      int             `json:"code"`
	Msg       string          `json:"msg"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	RequestID string          `json:"request_id,omitempty"`

	// Raw is the full, undecoded response body. Endpoints whose payload
	// fields sit at the envelope's top level rather than under "data"
	// (endpoint.EnvelopeFlattened) decode against this instead of Data.
	Raw json.RawMessage `json:"-"`
}

// Request is a fully-built wire request: method, absolute URL, headers,
// and an optional body reader.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    io.Reader
}

// Executor issues one HTTP call and classifies the outcome.
type Executor struct {
	Client *http.Client
}

// New builds an Executor around client. A nil client uses http.DefaultClient.
func New(client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{Client: client}
}

// Do issues req, decodes the standard envelope, and classifies the
// outcome. A nil error with a non-nil Envelope means code == 0 (success).
func (e *Executor) Do(ctx context.Context, req Request, requestID string) (*Envelope, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, oapierr.Transport(requestID, err)
	}
	httpReq.Header = req.Headers

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, oapierr.Cancelled(requestID)
		}
		return nil, oapierr.Transport(requestID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, oapierr.Transport(requestID, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, oapierr.RateLimited(requestID, retryAfter)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, oapierr.Auth(requestID, "unauthorized")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, oapierr.Transport(requestID, errStatus(resp.StatusCode))
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, oapierr.Decode(requestID, err)
	}
	env.Raw = body

	if env.RequestID == "" {
		env.RequestID = requestID
	}

	if env.Code == rateLimitSentinel {
		return &env, oapierr.RateLimited(env.RequestID, 0)
	}

	if env.Code != 0 {
		return &env, oapierr.Server(env.RequestID, env.Code, env.Msg)
	}

	return &env, nil
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	n, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return n
}

type statusError struct {
	code int
}

func (s statusError) Error() string {
	return "unexpected status " + strconv.Itoa(s.code)
}

func errStatus(code int) error {
	return statusError{code: code}
}
