package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RouteMiddlewares are applied to specific authentication routes.
// Nil entries are skipped.
type RouteMiddlewares struct {
	// LoginLimit guards POST /login (LOGIN preset).
	LoginLimit Middleware
	// PinLimit guards POST /pin-login (PIN preset).
	PinLimit Middleware
	// Authenticate resolves the session cookie into the request context.
	Authenticate Middleware
	// AdminOnly restricts a route to admin password sessions.
	AdminOnly Middleware
}

// RegisterRoutes registers all authentication routes with the Chi router
// Public routes: /login, /pin-login, /logout, /session, /recover
// Protected routes: /security-events
func RegisterRoutes(r chi.Router, handler *AuthHandler, mw RouteMiddlewares) {
	r.Route("/auth", func(r chi.Router) {
		r.With(optional(mw.LoginLimit)...).Post("/login", handler.Login)
		r.With(optional(mw.PinLimit)...).Post("/pin-login", handler.PinLogin)
		r.Post("/logout", handler.Logout)
		r.Get("/session", handler.GetSession)
		r.Get("/recover", handler.Recover)

		r.Group(func(r chi.Router) {
			r.Use(optional(mw.Authenticate, mw.AdminOnly)...)
			r.Get("/security-events", handler.SecurityEvents)
		})
	})
}

func optional(mws ...Middleware) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
