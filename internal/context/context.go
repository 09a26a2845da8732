package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "user_id"
	// EmailKey is the context key for user email
	EmailKey ContextKey = "email"
	// EtablissementIDKey is the context key for the tenant id
	EtablissementIDKey ContextKey = "etablissement_id"
	// RoleKey is the context key for the staff role
	RoleKey ContextKey = "role"
	// SessionKey holds the full decoded session payload
	SessionKey ContextKey = "session"
)

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// ExtractEmail extracts the email from the request context
func ExtractEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailKey).(string)
	return email, ok
}

// ExtractEtablissementID extracts the tenant id from the request context
func ExtractEtablissementID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(EtablissementIDKey).(string)
	return id, ok
}

// ExtractRole extracts the staff role from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}
