// Package middleware provides HTTP middleware for the POS backend: request
// logging, session authentication, role guards and rate limiting.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/orema/pos-backend/internal/logger"
)

// LoggingMiddleware writes one access log line per request, enriched with
// whatever the session and rate-limit layers recorded for it.
type LoggingMiddleware struct {
	logger *slog.Logger
	quiet  map[string]bool
}

// NewLoggingMiddleware creates a new LoggingMiddleware instance.
// Successful requests to quietPaths (probes, scrapes) are logged at debug.
func NewLoggingMiddleware(log *slog.Logger, quietPaths ...string) *LoggingMiddleware {
	if log == nil {
		log = slog.Default()
	}
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}
	return &LoggingMiddleware{logger: log, quiet: quiet}
}

// Handler returns the access logging middleware. It must run after chi's
// RequestID and RealIP.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ctx := logger.SetCorrelationID(r.Context(), requestID)
		ctx = logger.WithRequestFields(ctx)
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := []any{
			slog.String("correlation_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", ClientIP(r)),
			slog.String("user_agent", r.UserAgent()),
		}
		for _, a := range logger.RequestFields(ctx) {
			attrs = append(attrs, a)
		}

		status := ww.Status()
		switch {
		case status >= 500:
			m.logger.Error("request failed", attrs...)
		case status == http.StatusTooManyRequests, status == http.StatusUnauthorized, status == http.StatusForbidden:
			m.logger.Warn("request rejected", attrs...)
		case status >= 400:
			m.logger.Info("request completed with client error", attrs...)
		case m.quiet[r.URL.Path]:
			m.logger.Debug("request completed", attrs...)
		default:
			m.logger.Info("request completed", attrs...)
		}
	})
}
