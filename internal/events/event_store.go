package events

import (
	"container/list"
	"sync"
	"time"
)

// InMemoryEventStore implements EventStore using a bounded in-memory buffer.
type InMemoryEventStore struct {
	mu           sync.RWMutex
	events       *list.List                 // oldest first
	eventIndex   map[string]*list.Element   // eventID -> element
	tenantEvents map[string][]*list.Element // tenantID -> elements, oldest first
	maxSize      int
}

// NewEventStore creates a new InMemoryEventStore with the given buffer size.
func NewEventStore(maxSize int) *InMemoryEventStore {
	if maxSize <= 0 {
		maxSize = 1000
	}

	return &InMemoryEventStore{
		events:       list.New(),
		eventIndex:   make(map[string]*list.Element),
		tenantEvents: make(map[string][]*list.Element),
		maxSize:      maxSize,
	}
}

// Store saves an event. If the buffer is full, the oldest event is removed.
func (es *InMemoryEventStore) Store(event Event) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.events.Len() >= es.maxSize {
		es.removeElementLocked(es.events.Front())
	}

	elem := es.events.PushBack(event)
	es.eventIndex[event.ID] = elem
	es.tenantEvents[event.TenantID] = append(es.tenantEvents[event.TenantID], elem)

	return nil
}

// GetSince returns a tenant's events after the given event ID.
// If eventID is empty, returns the most recent events up to limit.
// An unknown eventID (already evicted) yields an empty result.
func (es *InMemoryEventStore) GetSince(tenantID string, eventID string, limit int) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]Event, 0)
	elems := es.tenantEvents[tenantID]

	if eventID == "" {
		start := 0
		if len(elems) > limit {
			start = len(elems) - limit
		}
		for _, elem := range elems[start:] {
			result = append(result, elem.Value.(Event))
		}
		return result, nil
	}

	startElem, exists := es.eventIndex[eventID]
	if !exists || startElem.Value.(Event).TenantID != tenantID {
		return result, nil
	}

	for elem := startElem.Next(); elem != nil && len(result) < limit; elem = elem.Next() {
		event := elem.Value.(Event)
		if event.TenantID == tenantID {
			result = append(result, event)
		}
	}

	return result, nil
}

// Cleanup removes events older than the given duration.
func (es *InMemoryEventStore) Cleanup(olderThan time.Duration) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	for es.events.Len() > 0 {
		front := es.events.Front()
		if front.Value.(Event).Timestamp.After(cutoff) {
			break
		}
		es.removeElementLocked(front)
	}

	return nil
}

// Len returns the number of buffered events.
func (es *InMemoryEventStore) Len() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.events.Len()
}

// removeElementLocked removes an element from all indexes. Must be called with lock held.
func (es *InMemoryEventStore) removeElementLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	event := elem.Value.(Event)

	es.events.Remove(elem)
	delete(es.eventIndex, event.ID)

	elems := es.tenantEvents[event.TenantID]
	for i, e := range elems {
		if e == elem {
			elems = append(elems[:i], elems[i+1:]...)
			break
		}
	}
	if len(elems) == 0 {
		delete(es.tenantEvents, event.TenantID)
	} else {
		es.tenantEvents[event.TenantID] = elems
	}
}
