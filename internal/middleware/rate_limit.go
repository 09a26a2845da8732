package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/orema/pos-backend/internal/auth"
	"github.com/orema/pos-backend/internal/events"
	"github.com/orema/pos-backend/internal/logger"
	"github.com/orema/pos-backend/internal/ratelimit"
)

// CodeTooManyRequests is the error code for rate-limited requests.
const CodeTooManyRequests = "TOO_MANY_REQUESTS"

// RateLimiter is the subset of ratelimit.Limiter used by the middleware.
type RateLimiter interface {
	RateLimit(ctx context.Context, key string, policy ratelimit.Policy) (ratelimit.Result, error)
}

// EventPublisher receives security events.
type EventPublisher interface {
	Publish(event events.Event) error
}

// KeyFunc derives the rate-limit key for a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// RateLimitMiddleware applies rate-limit presets to routes
type RateLimitMiddleware struct {
	limiter RateLimiter
	events  EventPublisher
	logger  *slog.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware instance
func NewRateLimitMiddleware(limiter RateLimiter, publisher EventPublisher, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimitMiddleware{
		limiter: limiter,
		events:  publisher,
		logger:  log,
	}
}

// Limit returns middleware enforcing policy per key. When the store fails
// the request is let through and the failure logged.
func (m *RateLimitMiddleware) Limit(policy ratelimit.Policy, keyFunc KeyFunc) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" || policy.Disabled() {
				next.ServeHTTP(w, r)
				return
			}

			result, err := m.limiter.RateLimit(r.Context(), key, policy)
			if err != nil {
				logger.WithCorrelationID(r.Context(), m.logger).Error("rate limit check failed, allowing request",
					slog.String("preset", policy.Name),
					slog.Any("error", err),
				)
				next.ServeHTTP(w, r)
				return
			}

			reset := strconv.Itoa(result.ResetSeconds())
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", reset)

			if !result.Success {
				logger.AddRequestFields(r.Context(),
					slog.String(logger.FieldRejection, "rate_limited"),
					slog.String(logger.FieldRateLimitPreset, policy.Name),
				)
				m.publish(policy, ClientIP(r))
				w.Header().Set("Retry-After", reset)
				auth.WriteError(w, http.StatusTooManyRequests, CodeTooManyRequests,
					"Too many requests. Please try again later.",
					map[string][]string{"retry_after": {reset}})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) publish(policy ratelimit.Policy, clientIP string) {
	if m.events == nil {
		return
	}
	event := events.New(events.EventTypeRateLimitExceeded, "", "", "", map[string]string{
		events.MetaPreset:   policy.Name,
		events.MetaClientIP: clientIP,
	})
	if err := m.events.Publish(event); err != nil {
		m.logger.Error("failed to publish security event", slog.Any("error", err))
	}
}

// ClientIP keys requests by remote address. Behind a proxy, chi's RealIP
// middleware must run first so RemoteAddr holds the client address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
