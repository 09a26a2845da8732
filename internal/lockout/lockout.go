// Package lockout tracks failed credential attempts and temporarily locks
// identifiers that exceed a policy threshold.
package lockout

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached.
var ErrStoreUnavailable = errors.New("lockout store unavailable")

// Policy bounds failures for one credential kind.
type Policy struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// DefaultPasswordPolicy returns the password lockout policy: 5 failures in 15 minutes lock for 15 minutes.
func DefaultPasswordPolicy() Policy {
	return Policy{MaxAttempts: 5, Window: 15 * time.Minute, LockoutDuration: 15 * time.Minute}
}

// DefaultPINPolicy returns the PIN lockout policy: 3 failures in 5 minutes lock for 5 minutes.
func DefaultPINPolicy() Policy {
	return Policy{MaxAttempts: 3, Window: 5 * time.Minute, LockoutDuration: 5 * time.Minute}
}

// Status is the lockout state of one identifier.
type Status struct {
	Locked            bool
	RemainingAttempts int
	// LockoutEndsAt is zero unless Locked.
	LockoutEndsAt time.Time
}

// Record is the failure history for one key.
type Record struct {
	Count        int
	FirstAttempt time.Time
	LockedUntil  time.Time
}

// Store persists attempt records. Implementations must make each call atomic per key.
type Store interface {
	Check(ctx context.Context, key string, policy Policy) (Status, error)
	RecordFailure(ctx context.Context, key string, policy Policy) (Status, error)
	Reset(ctx context.Context, key string) error
}

// stale reports whether the record no longer counts: its lockout has
// ended or, when never locked, its window has elapsed.
func (r Record) stale(now time.Time, p Policy) bool {
	if !r.LockedUntil.IsZero() {
		return !now.Before(r.LockedUntil)
	}
	return now.Sub(r.FirstAttempt) > p.Window
}

func (r Record) status(now time.Time, p Policy) Status {
	if !r.LockedUntil.IsZero() && now.Before(r.LockedUntil) {
		return Status{Locked: true, LockoutEndsAt: r.LockedUntil}
	}
	remaining := p.MaxAttempts - r.Count
	if remaining < 0 {
		remaining = 0
	}
	return Status{RemainingAttempts: remaining}
}

// expiresAt is the instant after which the record can be discarded.
func (r Record) expiresAt(p Policy) time.Time {
	end := r.FirstAttempt.Add(p.Window)
	if r.LockedUntil.After(end) {
		end = r.LockedUntil
	}
	return end
}

// Tracker applies the password and PIN policies over a Store.
type Tracker struct {
	store    Store
	password Policy
	pin      Policy
}

// NewTracker creates a new Tracker instance
func NewTracker(store Store, password, pin Policy) *Tracker {
	return &Tracker{store: store, password: password, pin: pin}
}

// CheckLockout reports the current state for identifier without recording anything.
func (t *Tracker) CheckLockout(ctx context.Context, identifier string, isPin bool) (Status, error) {
	key, policy := t.resolve(identifier, isPin)
	return t.store.Check(ctx, key, policy)
}

// RecordFailedAttempt counts one failure and locks the identifier once the policy maximum is reached.
func (t *Tracker) RecordFailedAttempt(ctx context.Context, identifier string, isPin bool) (Status, error) {
	key, policy := t.resolve(identifier, isPin)
	return t.store.RecordFailure(ctx, key, policy)
}

// ResetAttempts forgets all failures for identifier.
func (t *Tracker) ResetAttempts(ctx context.Context, identifier string, isPin bool) error {
	key, _ := t.resolve(identifier, isPin)
	return t.store.Reset(ctx, key)
}

// Policy returns the policy applied to the given credential kind.
func (t *Tracker) Policy(isPin bool) Policy {
	if isPin {
		return t.pin
	}
	return t.password
}

func (t *Tracker) resolve(identifier string, isPin bool) (string, Policy) {
	return Key(identifier, isPin), t.Policy(isPin)
}

// Key namespaces a normalised identifier so password and PIN counters never collide.
func Key(identifier string, isPin bool) string {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if isPin {
		return "pin:" + id
	}
	return "login:" + id
}
