package auth

import (
	"context"

	appctx "github.com/orema/pos-backend/internal/context"
)

// ContextWithSession stores the payload and its identity fields in ctx.
func ContextWithSession(ctx context.Context, p *SessionPayload) context.Context {
	ctx = context.WithValue(ctx, appctx.SessionKey, p)
	ctx = context.WithValue(ctx, appctx.UserIDKey, p.UserID)
	ctx = context.WithValue(ctx, appctx.EmailKey, p.Email)
	ctx = context.WithValue(ctx, appctx.EtablissementIDKey, p.EtablissementID)
	ctx = context.WithValue(ctx, appctx.RoleKey, string(p.Role))
	return ctx
}

// SessionFromContext returns the payload stored by ContextWithSession.
func SessionFromContext(ctx context.Context) (*SessionPayload, bool) {
	p, ok := ctx.Value(appctx.SessionKey).(*SessionPayload)
	return p, ok && p != nil
}
