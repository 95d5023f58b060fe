// SPDX-License-Identifier: Apache-2.0

// Package openlark is the SDK core's root facade. It wires the
// credential manager (token) and transport pipeline (transport) behind
// a single Config/Client pair, the way the generated per-endpoint layer
// (out of scope for this core) is meant to consume it.
package openlark

import (
	"context"
	"net/http"
	"time"

	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
	"gopkg.in/dealancer/validate.v2"

	"github.com/openlark/sdk-go/clock"
	"github.com/openlark/sdk-go/endpoint"
	"github.com/openlark/sdk-go/httpexec"
	"github.com/openlark/sdk-go/oapierr"
	"github.com/openlark/sdk-go/token"
	"github.com/openlark/sdk-go/transport"
)

// Config is the single entry point for constructing a Client. Every
// field with a `validate` tag is checked structurally by
// gopkg.in/dealancer/validate.v2 in New; New does not check URL shape or
// flavor-dependent requirements.
type Config struct {
	// AppID and AppSecret identify the application. Required.
	AppID     string `validate:"empty=false"`
	AppSecret string `validate:"empty=false"`

	// BaseURL is the platform's API base, e.g. "https://open.example.com".
	BaseURL string `validate:"empty=false"`

	// Marketplace selects marketplace-flavor app/tenant token fetches.
	// Defaults to false (self-built).
	Marketplace bool

	// HTTPClient is shared by every token fetch and endpoint call. A nil
	// client defaults to a fresh *http.Client with Timeout set to
	// RequestTimeout.
	HTTPClient *http.Client

	// RequestTimeout bounds the default HTTPClient's Timeout when
	// HTTPClient is nil. Defaults to 10s.
	RequestTimeout time.Duration

	// TokenSafetyDelta overrides clock.DefaultSafetyDelta for the
	// credential manager's cache.
	TokenSafetyDelta time.Duration

	// Retry overrides transport.DefaultRetry for the request pipeline's
	// backoff policy.
	Retry *RetryConfig

	// Warmer, if non-nil, starts the credential manager's background
	// warmer with this configuration at construction time.
	Warmer *token.WarmerConfig

	// Logger receives warmer, retry, and fetch diagnostics. Nil means a
	// default logger built from sallust.Config{}, or a no-op logger if
	// that build fails.
	Logger *zap.Logger

	// Clock overrides the time source used by the credential cache.
	// Intended for tests; nil means clock.Real{}.
	Clock clock.Clock
}

// RetryConfig mirrors the fields of retry.Config, so callers of this
// package don't need to import github.com/xmidt-org/retry directly.
type RetryConfig struct {
	Interval    time.Duration
	Multiplier  float64
	Jitter      float64
	MaxInterval time.Duration
}

// Client is the constructed SDK core: a credential manager plus a
// transport pipeline, ready for a generated endpoint layer to drive.
type Client struct {
	Tokens   *token.Manager
	Pipeline *transport.Pipeline
	logger   *zap.Logger
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	if err := validate.Validate(&cfg); err != nil {
		return nil, oapierr.Validation("config", err.Error())
	}

	logger := cfg.Logger
	if logger == nil {
		built, lerr := sallust.Config{}.Build()
		if lerr != nil {
			built = zap.NewNop()
		}
		logger = built
	}

	flavor := token.FlavorSelfBuilt
	if cfg.Marketplace {
		flavor = token.FlavorMarketplace
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	tokenOpts := []token.Option{
		token.AppID(cfg.AppID),
		token.AppSecret(cfg.AppSecret),
		token.BaseURL(cfg.BaseURL),
		token.WithFlavor(flavor),
		token.HTTPClient(httpClient),
		token.WithLogger(logger),
	}
	if cfg.TokenSafetyDelta > 0 {
		tokenOpts = append(tokenOpts, token.SafetyDelta(cfg.TokenSafetyDelta))
	}
	if cfg.Clock != nil {
		tokenOpts = append(tokenOpts, token.WithClock(cfg.Clock))
	}

	tokens, err := token.New(tokenOpts...)
	if err != nil {
		return nil, err
	}

	pipeline := transport.New(cfg.BaseURL, tokens, httpexec.New(httpClient))
	pipeline.Logger = logger
	if cfg.Retry != nil {
		pipeline.Retry.Interval = cfg.Retry.Interval
		pipeline.Retry.Multiplier = cfg.Retry.Multiplier
		pipeline.Retry.Jitter = cfg.Retry.Jitter
		pipeline.Retry.MaxInterval = cfg.Retry.MaxInterval
	}

	if cfg.Warmer != nil {
		tokens.StartWarmer(*cfg.Warmer)
	}

	return &Client{Tokens: tokens, Pipeline: pipeline, logger: logger}, nil
}

// Close stops the credential manager's background warmer, if running.
func (c *Client) Close() {
	c.Tokens.Close()
}

// Do is a thin pass-through to the transport pipeline, exposed here so
// the generated endpoint layer only ever needs to import openlark,
// endpoint, and transport.
func (c *Client) Do(ctx context.Context, desc endpoint.Descriptor, req transport.Request, out any) error {
	return c.Pipeline.Do(ctx, desc, req, out)
}
