package events

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(NewEventStore(100))

	var mu sync.Mutex
	var received []Event
	unsubscribe := bus.Subscribe(func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
	})
	defer unsubscribe()

	event := New(EventTypeLoginSucceeded, "etab-1", "user-1", "caisse@orema.ga", map[string]string{MetaMethod: "pin"})
	if err := bus.Publish(event); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].ID != event.ID {
		t.Fatalf("expected event %s to be delivered, got %+v", event.ID, received)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(nil)

	calls := 0
	unsubscribe := bus.Subscribe(func(Event) { calls++ })
	unsubscribe()

	if err := bus.Publish(New(EventTypeLogout, "etab-1", "user-1", "", nil)); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	if calls != 0 {
		t.Fatalf("handler called %d times after unsubscribe", calls)
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestEventBus_PublishWithoutType(t *testing.T) {
	bus := NewEventBus(nil)
	if err := bus.Publish(Event{ID: "x"}); !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestEventBus_EventsWithoutTenantAreNotStored(t *testing.T) {
	store := NewEventStore(100)
	bus := NewEventBus(store)

	delivered := 0
	bus.Subscribe(func(Event) { delivered++ })

	if err := bus.Publish(New(EventTypeLoginFailed, "", "", "inconnu@orema.ga", nil)); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected delivery to subscribers, got %d", delivered)
	}
	if store.Len() != 0 {
		t.Fatalf("tenantless event should not be stored, store has %d", store.Len())
	}
}

func TestEventBus_GetEventsSince(t *testing.T) {
	bus := NewEventBus(NewEventStore(100))

	first := New(EventTypeLoginFailed, "etab-1", "user-1", "a@b.cd", nil)
	second := New(EventTypeLoginLocked, "etab-1", "user-1", "a@b.cd", nil)
	other := New(EventTypeLoginFailed, "etab-2", "user-9", "z@b.cd", nil)
	for _, e := range []Event{first, other, second} {
		if err := bus.Publish(e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	events, err := bus.GetEventsSince("etab-1", first.ID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 1 || events[0].ID != second.ID {
		t.Fatalf("expected only %s, got %+v", second.ID, events)
	}

	all, err := bus.GetEventsSince("etab-1", "")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events for etab-1, got %d", len(all))
	}

	cross, err := bus.GetEventsSince("etab-2", first.ID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(cross) != 0 {
		t.Fatalf("cursor from another tenant must not leak events, got %d", len(cross))
	}
}

func TestEventBus_NilStore(t *testing.T) {
	bus := NewEventBus(nil)
	events, err := bus.GetEventsSince("etab-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := LogSubscriber(logger)

	handler(New(EventTypeLoginLocked, "etab-1", "user-1", "a@b.cd", map[string]string{MetaMethod: "password"}))

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"event_type":"login.locked"`, `"method":"password"`, `"etablissement_id":"etab-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}
