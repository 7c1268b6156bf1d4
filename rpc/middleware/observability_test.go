package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObservabilityAssignsRequestID(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Registerer: prometheus.NewRegistry()}, nil)
	var seen string
	handler := obs.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/rpc", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, res.Header().Get(RequestIDHeader))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.requests.WithLabelValues("rpc", http.MethodPost, "418")))
}

func TestObservabilityKeepsCallerRequestID(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{}, nil)
	handler := obs.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "abc-123", res.Header().Get(RequestIDHeader))
}

func TestObservabilitySharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewObservability(ObservabilityConfig{Registerer: reg}, nil)
	second := NewObservability(ObservabilityConfig{Registerer: reg}, nil)
	require.Same(t, first.requests, second.requests)
}

func TestObservabilityAccessLogMasksAuthorization(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := NewObservability(ObservabilityConfig{LogRequests: true}, logger)
	handler := obs.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer s3cret-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Contains(t, buf.String(), `"authorization":"[REDACTED]"`)
	require.NotContains(t, buf.String(), "s3cret-token")
}
