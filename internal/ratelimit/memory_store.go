package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with per-key timestamp slices.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*window
	now     func() time.Time

	sweepInterval time.Duration
	sweeping      bool
	closed        bool
	stop          chan struct{}
}

type window struct {
	hits   []time.Time
	length time.Duration
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
		entries:       make(map[string]*window),
		now:           now,
		sweepInterval: interval,
		stop:          make(chan struct{}),
	}
}

// Allow checks and records one request for key.
func (s *MemoryStore) Allow(_ context.Context, key string, policy Policy) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.entries[key]
	if !ok {
		w = &window{}
		s.entries[key] = w
	}
	w.length = policy.Window
	w.hits = prune(w.hits, now.Add(-policy.Window))

	if len(w.hits) >= policy.Max {
		res := Result{Success: false, Remaining: 0}
		if len(w.hits) > 0 {
			res.ResetIn = w.hits[0].Add(policy.Window).Sub(now)
		} else {
			delete(s.entries, key)
		}
		return res, nil
	}

	w.hits = append(w.hits, now)
	s.startSweepLocked()

	return Result{
		Success:   true,
		Remaining: policy.Max - len(w.hits),
		ResetIn:   w.hits[0].Add(policy.Window).Sub(now),
	}, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired timestamps and empty keys. It reports whether any keys remain.
func (s *MemoryStore) Sweep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.entries) > 0
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	return nil
}

func (s *MemoryStore) pruneLocked() {
	now := s.now()
	for key, w := range s.entries {
		w.hits = prune(w.hits, now.Add(-w.length))
		if len(w.hits) == 0 {
			delete(s.entries, key)
		}
	}
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
			s.mu.Lock()
			s.pruneLocked()
			idle := len(s.entries) == 0
			if idle {
				s.sweeping = false
			}
			s.mu.Unlock()
			if idle {
				return
			}
		}
	}
}

func (s *MemoryStore) sweeperRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeping
}

// prune keeps timestamps strictly newer than cutoff. hits is in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
