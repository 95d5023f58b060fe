// SPDX-License-Identifier: Apache-2.0

package httpexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlark/sdk-go/oapierr"
)

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"ok","data":{"hello":"world"}}`))
	}))
	defer srv.Close()

	exec := New(srv.Client())
	env, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Headers: http.Header{}}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 0, env.Code)
	assert.JSONEq(t, `{"hello":"world"}`, string(env.Data))
}

func TestDoServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1770001,"msg":"bad request"}`))
	}))
	defer srv.Close()

	exec := New(srv.Client())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Headers: http.Header{}}, "req-1")
	require.Error(t, err)

	var oe *oapierr.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, oapierr.KindServer, oe.Kind)
	assert.Equal(t, 1770001, oe.Code)
}

func TestDoRateLimitedByCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":99991400,"msg":"throttled"}`))
	}))
	defer srv.Close()

	exec := New(srv.Client())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Headers: http.Header{}}, "req-1")
	require.Error(t, err)

	var oe *oapierr.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, oapierr.KindRateLimited, oe.Kind)
}

func TestDoRateLimitedByStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	exec := New(srv.Client())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Headers: http.Header{}}, "req-1")
	require.Error(t, err)

	var oe *oapierr.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, oapierr.KindRateLimited, oe.Kind)
	assert.Equal(t, 5, oe.RetryAfterSeconds)
}

func TestDoMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	exec := New(srv.Client())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Headers: http.Header{}}, "req-1")
	require.Error(t, err)

	var oe *oapierr.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, oapierr.KindDecode, oe.Kind)
}

func TestDoTransportFailure(t *testing.T) {
	exec := New(http.DefaultClient)
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: "http://127.0.0.1:1", Headers: http.Header{}}, "req-1")
	require.Error(t, err)

	var oe *oapierr.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, oapierr.KindTransport, oe.Kind)
}
