package slogx_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/seatpool/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONWithServiceFields(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Service: "seatpool", Version: "v0", Env: "test", Level: "debug", Output: &buf})
	logger.Debug("hello", "k", "v")

	require.Contains(t, buf.String(), `"service":"seatpool"`)
	require.Contains(t, buf.String(), `"msg":"hello"`)
	require.Contains(t, buf.String(), `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, slogx.ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, slogx.ParseLevel("warning"))
	require.Equal(t, slog.LevelError, slogx.ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, slogx.ParseLevel("whatever"))
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := slogx.WithContext(context.Background(), base)
	ctx = slogx.With(ctx, "job_id", 7)
	slogx.FromContext(ctx).Info("leased")

	require.Contains(t, buf.String(), "job_id=7")
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var reqLogger *slog.Logger
	h := slogx.HTTPMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLogger = slogx.FromContext(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, reqLogger)
	require.Contains(t, buf.String(), `"req_id":"req-1"`)
	require.Contains(t, buf.String(), `"path":"/readyz"`)
	require.Contains(t, buf.String(), `"status":503`)
	require.Contains(t, buf.String(), `"level":"WARN"`)
}
