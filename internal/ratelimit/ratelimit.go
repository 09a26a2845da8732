// Package ratelimit implements sliding-window request limiting with named presets.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Policy caps requests per key within a sliding window.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Built-in presets.
var (
	Login  = Policy{Name: "login", Max: 5, Window: 900 * time.Second}
	PIN    = Policy{Name: "pin", Max: 3, Window: 300 * time.Second}
	Upload = Policy{Name: "upload", Max: 10, Window: 60 * time.Second}
	API    = Policy{Name: "api", Max: 100, Window: 60 * time.Second}
	Setup  = Policy{Name: "setup", Max: 3, Window: 3600 * time.Second}
)

var presets = map[string]Policy{
	Login.Name:  Login,
	PIN.Name:    PIN,
	Upload.Name: Upload,
	API.Name:    API,
	Setup.Name:  Setup,
}

// Result is the outcome of one rate-limit decision.
type Result struct {
	Success   bool
	Remaining int
	// ResetIn is the time until the oldest counted request leaves the window.
	ResetIn time.Duration
}

// ResetSeconds returns ResetIn rounded up to whole seconds.
func (r Result) ResetSeconds() int {
	if r.ResetIn <= 0 {
		return 0
	}
	return int(math.Ceil(r.ResetIn.Seconds()))
}

// Store records request timestamps. Allow must be atomic per key.
type Store interface {
	Allow(ctx context.Context, key string, policy Policy) (Result, error)
}

// Limiter applies policies over a Store.
type Limiter struct {
	store Store
}

// New creates a new Limiter instance
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Disabled reports whether the policy limits nothing (no cap or no window).
func (p Policy) Disabled() bool {
	return p.Max <= 0 || p.Window <= 0
}

// RateLimit records a request for key under policy. The key is namespaced
// by the policy name so presets never share counters. A disabled policy
// allows every request without touching the store.
func (l *Limiter) RateLimit(ctx context.Context, key string, policy Policy) (Result, error) {
	if policy.Disabled() {
		return Result{Success: true}, nil
	}
	return l.store.Allow(ctx, policy.Name+":"+key, policy)
}

// Preset looks up a built-in policy by name.
func (l *Limiter) Preset(name string) (Policy, bool) {
	return Preset(name)
}

// Preset looks up a built-in policy by name.
func Preset(name string) (Policy, bool) {
	p, ok := presets[name]
	return p, ok
}
