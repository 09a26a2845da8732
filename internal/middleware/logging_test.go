package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orema/pos-backend/internal/auth"
	"github.com/orema/pos-backend/internal/ratelimit"
)

func newCapturingLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func accessLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), buf.String())
	return line
}

func TestLogging_RecordsSessionFields(t *testing.T) {
	var buf bytes.Buffer
	logging := NewLoggingMiddleware(newCapturingLogger(&buf))
	mw, codec := newTestAuthMiddleware(t)
	handler, _ := testHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil)
	req.RemoteAddr = "10.0.0.7:4100"
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: sessionToken(t, codec, auth.RoleCaissier, true)})
	rec := httptest.NewRecorder()
	logging.Handler(mw.Authenticate(handler)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	line := accessLine(t, &buf)
	require.Equal(t, "INFO", line["level"])
	require.Equal(t, "user-1", line["user_id"])
	require.Equal(t, "etab-1", line["etablissement_id"])
	require.Equal(t, true, line["pin_session"])
	require.Equal(t, "10.0.0.7", line["client_ip"])
	require.NotContains(t, buf.String(), sessionToken(t, codec, auth.RoleCaissier, true)[:20])
}

func TestLogging_InvalidSessionIsTagged(t *testing.T) {
	var buf bytes.Buffer
	logging := NewLoggingMiddleware(newCapturingLogger(&buf))
	mw, _ := newTestAuthMiddleware(t)
	handler, _ := testHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "a.b.c"})
	rec := httptest.NewRecorder()
	logging.Handler(mw.Authenticate(handler)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	line := accessLine(t, &buf)
	require.Equal(t, "WARN", line["level"])
	require.Equal(t, "session_invalid", line["rejection"])
	require.NotContains(t, line, "user_id")
}

func TestLogging_RateLimitedRequestIsTagged(t *testing.T) {
	var buf bytes.Buffer
	logging := NewLoggingMiddleware(newCapturingLogger(&buf))
	limited := newLimitedHandler(t, ratelimit.Policy{Name: "pin", Max: 1, Window: ratelimit.PIN.Window}, nil)
	h := logging.Handler(limited)

	h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.9:1000"))
	buf.Reset()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.9:1000"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	line := accessLine(t, &buf)
	require.Equal(t, "WARN", line["level"])
	require.Equal(t, "rate_limited", line["rejection"])
	require.Equal(t, "pin", line["ratelimit_preset"])
}

func TestLogging_QuietPathsLogAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logging := NewLoggingMiddleware(newCapturingLogger(&buf), "/health/live")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	logging.Handler(ok).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, "DEBUG", accessLine(t, &buf)["level"])
}
