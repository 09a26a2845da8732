// Package events provides the security audit event bus: authentication
// outcomes are published here and fanned out to metrics, logs and a
// bounded per-tenant buffer that administrators can read back.
package events

import (
	"time"
)

// Event is one security-relevant occurrence.
type Event struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"-"` // internal, selects the replay buffer
	UserID   string `json:"user_id,omitempty"`
	// Identifier is the normalised login email the attempt targeted.
	Identifier string            `json:"identifier,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// EventHandler is a function that handles published events.
type EventHandler func(event Event)

// EventBus defines the interface for publishing and subscribing to events.
type EventBus interface {
	// Publish delivers an event to every subscriber and records it for its tenant.
	Publish(event Event) error
	// Subscribe registers a handler for all events.
	// Returns an unsubscribe function.
	Subscribe(handler EventHandler) (unsubscribe func())
	// GetEventsSince returns a tenant's events after the given event ID.
	GetEventsSince(tenantID string, lastEventID string) ([]Event, error)
}

// EventStore defines the interface for storing and retrieving events.
type EventStore interface {
	// Store saves an event for later retrieval.
	Store(event Event) error
	// GetSince returns a tenant's events after the given event ID.
	GetSince(tenantID string, eventID string, limit int) ([]Event, error)
	// Cleanup removes events older than the given duration.
	Cleanup(olderThan time.Duration) error
}
