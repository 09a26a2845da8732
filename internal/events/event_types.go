package events

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeLoginSucceeded    = "login.succeeded"
	EventTypeLoginFailed       = "login.failed"
	EventTypeLoginLocked       = "login.locked"
	EventTypeSessionRejected   = "session.rejected"
	EventTypeSessionStale      = "session.stale_tenant"
	EventTypeLogout            = "logout"
	EventTypeRateLimitExceeded = "ratelimit.exceeded"
)

// Metadata keys shared by publishers and subscribers.
const (
	MetaMethod            = "method" // "password" or "pin"
	MetaRemainingAttempts = "remaining_attempts"
	MetaLockoutEndsAt     = "lockout_ends_at"
	MetaReason            = "reason"
	MetaPreset            = "preset"
	MetaClientIP          = "client_ip"
)

// New builds an event with a fresh id and the current time.
func New(eventType, tenantID, userID, identifier string, metadata map[string]string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		TenantID:   tenantID,
		UserID:     userID,
		Identifier: identifier,
		Metadata:   metadata,
		Timestamp:  time.Now().UTC(),
	}
}
