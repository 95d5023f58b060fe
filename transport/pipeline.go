// SPDX-License-Identifier: Apache-2.0

// Package transport ties the endpoint descriptor, credential manager, and
// HTTP executor together into the single call spec.md §4.G describes:
// select a credential, build a request, execute it, retry on a
// retriable classification, and decode the response envelope.
//
// Grounded on the teacher's internal/websocket package for the retry
// shape (a retry.Config driving a retry.Policy loop between attempts)
// and on internal/credentials for per-call header/body construction and
// eventor-based request events.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"github.com/xmidt-org/eventor"
	"github.com/xmidt-org/retry"
	"go.uber.org/zap"

	"github.com/openlark/sdk-go/endpoint"
	"github.com/openlark/sdk-go/httpexec"
	"github.com/openlark/sdk-go/metrics"
	"github.com/openlark/sdk-go/oapierr"
	"github.com/openlark/sdk-go/transport/event"
)

// CredentialSource is the subset of *token.Manager the pipeline needs.
// Kept as an interface so tests can supply a stub without spinning up a
// real manager.
type CredentialSource interface {
	GetAppToken(ctx context.Context, appTicket string) (string, error)
	GetTenantToken(ctx context.Context, tenantID, appTicket string) (string, error)
	HasAppToken() bool
	HasTenantToken(tenantID string) bool
	InvalidateApp()
	InvalidateTenant(tenantID string)
}

// FilePart is one multipart file field, streamed rather than buffered
// whole (spec.md §4.G step 3).
type FilePart struct {
	FieldName   string
	FileName    string
	ContentType string
	Reader      io.Reader
}

// Request is the caller-supplied, endpoint-agnostic half of a call: the
// descriptor supplies the method/path/envelope shape, Request supplies
// the parameters and payload.
type Request struct {
	PathParams map[string]string
	Query      map[string]string

	// JSONBody is marshaled as the request body when Files is empty.
	JSONBody any

	// Fields accompanies Files in a multipart request as additional
	// form fields; ignored when Files is empty.
	Fields map[string]string
	Files  []FilePart

	// Headers are caller-supplied extras merged in after the pipeline's
	// own headers; a Headers["Authorization"] entry is dropped; the
	// caller's Authorization, if any, can never win over the one the
	// pipeline computes from the selected credential.
	Headers map[string]string

	// TenantID selects which cached tenant token to use when the
	// descriptor accepts CredentialTenant.
	TenantID string

	// AppTicket overrides the ticket store for a marketplace-flavor app
	// or tenant token fetch triggered by this call.
	AppTicket string

	// UserToken, if set, makes CredentialUser available for selection.
	// The pipeline does not cache or manage user tokens (spec.md's
	// glossary: user tokens are supplied by the caller's own OAuth flow).
	UserToken string
}

// Pipeline executes calls against a single platform base URL.
type Pipeline struct {
	BaseURL string
	Tokens  CredentialSource
	HTTP    *httpexec.Executor
	Retry   retry.Config
	Metrics *metrics.Counters
	Logger  *zap.Logger

	requestListeners eventor.Eventor[event.RequestListener]
}

// DefaultRetry is the backoff between attempts: 500ms base, factor 2, 20%
// jitter, 30s cap. It sets no retry limit; Do stops after maxAttempts
// attempts (3 retries beyond the first, 4 total).
var DefaultRetry = retry.Config{
	Interval:    500 * time.Millisecond,
	Multiplier:  2.0,
	Jitter:      0.2,
	MaxInterval: 30 * time.Second,
}

const maxAttempts = 4

// New builds a Pipeline with Retry set to DefaultRetry, a fresh
// metrics.Counters, and a no-op logger; callers may overwrite those
// fields afterwards.
func New(baseURL string, tokens CredentialSource, exec *httpexec.Executor) *Pipeline {
	p := &Pipeline{
		BaseURL: baseURL,
		Tokens:  tokens,
		HTTP:    exec,
		Retry:   DefaultRetry,
		Metrics: &metrics.Counters{},
		Logger:  zap.NewNop(),
	}
	return p
}

// AddRequestListener registers a listener for per-call request events.
func (p *Pipeline) AddRequestListener(l event.RequestListener) event.CancelListenerFunc {
	return event.CancelListenerFunc(p.requestListeners.Add(l))
}

// Do executes one call against desc, decoding the response payload into
// out (a pointer, or nil to discard it): the "data" field for
// EnvelopeWrapped, the whole response body for EnvelopeFlattened.
func (p *Pipeline) Do(ctx context.Context, desc endpoint.Descriptor, req Request, out any) error {
	start := time.Now()

	reqID := uuid.NewString()
	span := metrics.Span{RequestID: reqID, Endpoint: fmt.Sprintf("%s %s", desc.Method, desc.PathTemplate)}

	kind, ok := p.selectCredentialKind(desc, req)
	if !ok {
		verr := oapierr.Validation("credential_kind", "no accepted credential kind is available for this call")
		p.dispatchFailure(span, start, reqID, verr)
		return verr
	}
	span.CredentialKind = kind.String()

	url, err := desc.BuildURL(p.BaseURL, req.PathParams, req.Query)
	if err != nil {
		p.dispatchFailure(span, start, reqID, err)
		return err
	}

	authRetried := false
	var lastErr error

	policy := p.Retry.NewPolicy(ctx)

attempts:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		span.Attempt = attempt

		token, cacheHit, terr := p.resolveToken(ctx, kind, req)
		if terr != nil {
			lastErr = terr
			break
		}
		span.CacheHit = cacheHit

		body, contentType, berr := buildBody(req)
		if berr != nil {
			lastErr = berr
			break
		}

		headers := buildHeaders(token, contentType, reqID, req.Headers)

		attemptStart := time.Now()
		env, derr := p.HTTP.Do(ctx, httpexec.Request{
			Method:  desc.Method,
			URL:     url,
			Headers: headers,
			Body:    body,
		}, reqID)
		span.DurationMS = time.Since(attemptStart).Milliseconds()

		if derr == nil {
			p.dispatchSuccess(span, start, reqID, attempt)
			return decodeEnvelope(desc.Envelope, env, out)
		}

		lastErr = derr

		if oerr, isOapi := derr.(*oapierr.Error); isOapi && oerr.Kind == oapierr.KindAuth && cacheHit && !authRetried {
			authRetried = true
			p.invalidate(kind, req)
			continue
		}

		if !isRetriable(derr) || attempt == maxAttempts {
			break
		}

		wait, more := policy.Next()
		if !more {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			lastErr = oapierr.Cancelled(reqID)
			break attempts
		}
	}

	p.dispatchFailure(span, start, reqID, lastErr)
	return lastErr
}

func isRetriable(err error) bool {
	oerr, ok := err.(*oapierr.Error)
	return ok && oerr.IsRetriable()
}

func (p *Pipeline) selectCredentialKind(desc endpoint.Descriptor, req Request) (endpoint.CredentialKind, bool) {
	var available []endpoint.CredentialKind
	if p.Tokens != nil {
		available = append(available, endpoint.CredentialApp)
		if req.TenantID != "" {
			available = append(available, endpoint.CredentialTenant)
		}
	}
	if req.UserToken != "" {
		available = append(available, endpoint.CredentialUser)
	}
	return desc.AcceptsAny(available...)
}

// resolveToken returns the bearer token for kind plus whether it came
// from a cache hit. The hit/miss flag is read just before the call
// (HasAppToken/HasTenantToken), so it can race benignly with a
// concurrent refresh; it feeds the span's CacheHit flag and the
// auth-retry-once heuristic, never the value returned. The pipeline itself holds no lock across this call
// (spec.md §5).
func (p *Pipeline) resolveToken(ctx context.Context, kind endpoint.CredentialKind, req Request) (string, bool, error) {
	switch kind {
	case endpoint.CredentialUser:
		return req.UserToken, false, nil
	case endpoint.CredentialTenant:
		cacheHit := p.Tokens.HasTenantToken(req.TenantID)
		tok, err := p.Tokens.GetTenantToken(ctx, req.TenantID, req.AppTicket)
		if err != nil {
			return "", false, err
		}
		return tok, cacheHit, nil
	default:
		cacheHit := p.Tokens.HasAppToken()
		tok, err := p.Tokens.GetAppToken(ctx, req.AppTicket)
		if err != nil {
			return "", false, err
		}
		return tok, cacheHit, nil
	}
}

func (p *Pipeline) invalidate(kind endpoint.CredentialKind, req Request) {
	switch kind {
	case endpoint.CredentialTenant:
		p.Tokens.InvalidateTenant(req.TenantID)
	case endpoint.CredentialApp:
		p.Tokens.InvalidateApp()
	}
}

func (p *Pipeline) dispatchSuccess(span metrics.Span, start time.Time, reqID string, attempt int) {
	if p.Metrics != nil {
		p.Metrics.RequestSuccess()
	}
	p.requestListeners.Visit(func(l event.RequestListener) {
		l.OnRequest(event.Request{
			Endpoint:       span.Endpoint,
			CredentialKind: span.CredentialKind,
			CacheHit:       span.CacheHit,
			Attempts:       attempt,
			Duration:       time.Since(start),
			RequestID:      reqID,
		})
	})
}

func (p *Pipeline) dispatchFailure(span metrics.Span, start time.Time, reqID string, err error) {
	if p.Metrics != nil {
		p.Metrics.RequestFailure()
	}
	p.requestListeners.Visit(func(l event.RequestListener) {
		l.OnRequest(event.Request{
			Endpoint:       span.Endpoint,
			CredentialKind: span.CredentialKind,
			CacheHit:       span.CacheHit,
			Attempts:       span.Attempt,
			Duration:       time.Since(start),
			RequestID:      reqID,
			Err:            err,
		})
	})
}

func buildHeaders(token, contentType, requestID string, extras map[string]string) http.Header {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("X-Request-Id", requestID)
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	for k, v := range extras {
		if http.CanonicalHeaderKey(k) == "Authorization" {
			continue
		}
		h.Set(k, v)
	}
	return h
}

// buildBody encodes req as a JSON body, or as a streamed multipart body
// when Files is non-empty, per spec.md §4.G step 3. Multipart bodies are
// streamed through an io.Pipe so a large file is never buffered whole.
func buildBody(req Request) (io.Reader, string, error) {
	if len(req.Files) == 0 {
		if req.JSONBody == nil {
			return nil, "", nil
		}
		raw, err := json.Marshal(req.JSONBody)
		if err != nil {
			return nil, "", oapierr.Validation("body", err.Error())
		}
		return bytes.NewReader(raw), "application/json; charset=utf-8", nil
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			for k, v := range req.Fields {
				if err := mw.WriteField(k, v); err != nil {
					return err
				}
			}
			for _, f := range req.Files {
				var part io.Writer
				var err error
				if f.ContentType != "" {
					h := make(textproto.MIMEHeader)
					h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.FieldName, f.FileName))
					h.Set("Content-Type", f.ContentType)
					part, err = mw.CreatePart(h)
				} else {
					part, err = mw.CreateFormFile(f.FieldName, f.FileName)
				}
				if err != nil {
					return err
				}
				if _, err := io.Copy(part, f.Reader); err != nil {
					return err
				}
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType(), nil
}

func decodeEnvelope(shape endpoint.EnvelopeShape, env *httpexec.Envelope, out any) error {
	if out == nil || env == nil {
		return nil
	}

	payload := env.Data
	if shape == endpoint.EnvelopeFlattened {
		payload = env.Raw
	}
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return oapierr.Decode(env.RequestID, err)
	}
	return nil
}
