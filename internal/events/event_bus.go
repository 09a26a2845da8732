package events

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrMissingType is returned when publishing an event without a type.
var ErrMissingType = errors.New("event must have a Type")

// InMemoryEventBus implements EventBus with synchronous in-process delivery.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]EventHandler // subscriptionID -> handler
	store       EventStore
}

// NewEventBus creates a new InMemoryEventBus with the given event store.
func NewEventBus(store EventStore) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]EventHandler),
		store:       store,
	}
}

// Publish sends an event to all subscribers.
// Events carrying a tenant are also kept in the store.
func (eb *InMemoryEventBus) Publish(event Event) error {
	if event.Type == "" {
		return ErrMissingType
	}

	var storeErr error
	if eb.store != nil && event.TenantID != "" {
		storeErr = eb.store.Store(event)
	}

	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.subscribers))
	for _, handler := range eb.subscribers {
		handlers = append(handlers, handler)
	}
	eb.mu.RUnlock()

	// Handlers run without the lock so they may publish or unsubscribe.
	for _, handler := range handlers {
		handler(event)
	}

	return storeErr
}

// Subscribe registers a handler for every published event.
// Returns an unsubscribe function that removes the subscription.
func (eb *InMemoryEventBus) Subscribe(handler EventHandler) (unsubscribe func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscriptionID := uuid.New().String()
	eb.subscribers[subscriptionID] = handler

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.subscribers, subscriptionID)
	}
}

// GetEventsSince returns a tenant's events after the given event ID.
// Returns empty slice if no store is configured or no events found.
func (eb *InMemoryEventBus) GetEventsSince(tenantID string, lastEventID string) ([]Event, error) {
	if eb.store == nil {
		return []Event{}, nil
	}

	return eb.store.GetSince(tenantID, lastEventID, 100)
}

// SubscriberCount returns the number of active subscriptions.
func (eb *InMemoryEventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}
