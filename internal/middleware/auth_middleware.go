package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/orema/pos-backend/internal/auth"
	appctx "github.com/orema/pos-backend/internal/context"
	"github.com/orema/pos-backend/internal/logger"
)

// SessionResolver turns a session token into its payload.
type SessionResolver interface {
	GetSession(ctx context.Context, token string) (*auth.SessionPayload, error)
}

// SessionCookies reads and clears the session cookie.
type SessionCookies interface {
	ReadSession(r *http.Request) string
	ClearSession(w http.ResponseWriter)
}

// AuthMiddleware authenticates requests from the session cookie
type AuthMiddleware struct {
	sessions SessionResolver
	cookies  SessionCookies
	logger   *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(sessions SessionResolver, cookies SessionCookies, log *slog.Logger) *AuthMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &AuthMiddleware{
		sessions: sessions,
		cookies:  cookies,
		logger:   log,
	}
}

// Authenticate resolves the session cookie and stores the payload in the
// request context. An undecodable or stale session clears the cookie and
// answers 401, so the client falls back to the login page.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := m.sessions.GetSession(r.Context(), m.cookies.ReadSession(r))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrNoSession):
				logger.AddRequestFields(r.Context(), slog.String(logger.FieldRejection, "session_missing"))
				auth.WriteError(w, http.StatusUnauthorized, auth.CodeSessionMissing, "Not authenticated", nil)
			case errors.Is(err, auth.ErrSessionInvalid):
				logger.AddRequestFields(r.Context(), slog.String(logger.FieldRejection, "session_invalid"))
				m.cookies.ClearSession(w)
				auth.WriteError(w, http.StatusUnauthorized, auth.CodeSessionInvalid, "Session is invalid or expired", nil)
			default:
				logger.WithCorrelationID(r.Context(), m.logger).Error("session lookup failed", slog.Any("error", err))
				auth.WriteError(w, http.StatusInternalServerError, auth.CodeInternalError, "An unexpected error occurred", nil)
			}
			return
		}

		logger.AddRequestFields(r.Context(),
			slog.String(logger.FieldUserID, payload.UserID),
			slog.String(logger.FieldEtablissementID, payload.EtablissementID),
			slog.Bool(logger.FieldPinSession, payload.IsPinAuth),
		)
		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), payload)))
	})
}

// RequireRoles allows only sessions whose role is one of roles.
// It must run after Authenticate.
func RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	allowed := make(map[auth.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := auth.SessionFromContext(r.Context())
			if !ok {
				auth.WriteError(w, http.StatusUnauthorized, auth.CodeSessionMissing, "Not authenticated", nil)
				return
			}
			if !allowed[session.Role] {
				logger.AddRequestFields(r.Context(), slog.String(logger.FieldRejection, "role"))
				auth.WriteError(w, http.StatusForbidden, auth.CodeForbidden, "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePasswordSession rejects PIN sessions. Terminal PIN logins get the
// reduced capability set; routes behind this guard need a full password login.
func RequirePasswordSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			auth.WriteError(w, http.StatusUnauthorized, auth.CodeSessionMissing, "Not authenticated", nil)
			return
		}
		if session.IsPinAuth {
			logger.AddRequestFields(r.Context(), slog.String(logger.FieldRejection, "pin_session"))
			auth.WriteError(w, http.StatusForbidden, auth.CodeForbidden, "This action requires a password login", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	return appctx.ExtractUserID(ctx)
}

// ExtractEtablissementID extracts the tenant ID from the request context
func ExtractEtablissementID(ctx context.Context) (string, bool) {
	return appctx.ExtractEtablissementID(ctx)
}
