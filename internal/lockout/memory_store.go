package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps attempt records in process memory.
//
// A sweeper goroutine prunes stale records every sweep interval. It starts on
// the first write and exits once the map is empty, so an idle store holds no
// goroutine.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time

	sweepInterval time.Duration
	sweeping      bool
	closed        bool
	stop          chan struct{}
}

type memoryRecord struct {
	Record
	expires time.Time
}

// MemoryStoreConfig holds configuration for MemoryStore
type MemoryStoreConfig struct {
	SweepInterval time.Duration
	Now           func() time.Time
}

// NewMemoryStore creates a new MemoryStore instance
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MemoryStore{
		records:       make(map[string]*memoryRecord),
		now:           now,
		sweepInterval: interval,
		stop:          make(chan struct{}),
	}
}

// Check returns the status for key, discarding the record if it is stale.
func (s *MemoryStore) Check(_ context.Context, key string, policy Policy) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok {
		return Status{RemainingAttempts: policy.MaxAttempts}, nil
	}
	if rec.stale(now, policy) {
		delete(s.records, key)
		return Status{RemainingAttempts: policy.MaxAttempts}, nil
	}
	return rec.status(now, policy), nil
}

// RecordFailure increments the failure count for key.
func (s *MemoryStore) RecordFailure(_ context.Context, key string, policy Policy) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok || rec.stale(now, policy) {
		rec = &memoryRecord{Record: Record{FirstAttempt: now}}
		s.records[key] = rec
	}

	rec.Count++
	if rec.Count >= policy.MaxAttempts && rec.LockedUntil.IsZero() {
		rec.LockedUntil = now.Add(policy.LockoutDuration)
	}
	rec.expires = rec.expiresAt(policy)

	s.startSweepLocked()
	return rec.status(now, policy), nil
}

// Reset removes the record for key.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep removes records whose window and lockout have both ended.
// It reports whether any records remain.
func (s *MemoryStore) Sweep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	return len(s.records) > 0
}

// Close stops the sweeper. The store stays usable but is no longer swept.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	return nil
}

func (s *MemoryStore) startSweepLocked() {
	if s.sweeping || s.closed {
		return
	}
	s.sweeping = true
	go s.sweepLoop()
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.sweepOrPark() {
				return
			}
		}
	}
}

// sweepOrPark sweeps and, when nothing is left, marks the sweeper stopped
// under the same lock so the next write starts a fresh one.
func (s *MemoryStore) sweepOrPark() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	if len(s.records) == 0 {
		s.sweeping = false
		return false
	}
	return true
}

func (s *MemoryStore) pruneLocked() {
	now := s.now()
	for key, rec := range s.records {
		if !now.Before(rec.expires) {
			delete(s.records, key)
		}
	}
}

func (s *MemoryStore) sweeperRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeping
}
