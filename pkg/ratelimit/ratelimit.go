// Package ratelimit implements fixed-window request counting over a
// pluggable counter store.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrStoreUnavailable wraps any failure of the underlying counter store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Store keeps per-key counters for a fixed window.
type Store interface {
	// Increment adds one to key, starting a new window of the given length
	// when none is active, and returns the new count and the window end.
	Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error)
	// Decrement takes back one unit from key if its window is still active.
	Decrement(ctx context.Context, key string) error
}

// Policy is a named admission rule.
type Policy struct {
	Name   string
	Window time.Duration
	Limit  int
}

// Result describes one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left in the current window, rounded up to a second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// Limiter applies policies against a Store.
type Limiter struct {
	store Store
}

// New creates a Limiter over store.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Key builds the counter key for a policy and client identity.
func Key(policy, ip, userID string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return policy + ":" + ip + ":" + userID
}

// Take counts one request against key under policy.
func (l *Limiter) Take(ctx context.Context, p Policy, key string) (Result, error) {
	count, resetAt, err := l.store.Increment(ctx, key, p.Window)
	if err != nil {
		return Result{}, errors.Join(ErrStoreUnavailable, err)
	}
	remaining := p.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= p.Limit,
		Limit:     p.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Refund gives back a unit previously taken for key.
func (l *Limiter) Refund(ctx context.Context, key string) error {
	if err := l.store.Decrement(ctx, key); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
