// Package throttle implements failed-login throttling with temporary
// lockout. Counting is keyed by a caller-chosen identifier (normally the
// lowercased login email) and backed by a pluggable Store so multi-instance
// deployments can share counters through Redis while tests and single-node
// setups use the in-memory driver.
package throttle

import (
	"context"
	"fmt"
	"time"
)

// Default policy: five failures inside a rolling 15-minute inactivity
// window locks the identifier out for a fixed 30 minutes.
const (
	DefaultMaxFailures  = 5
	DefaultWindow       = 15 * time.Minute
	DefaultLockDuration = 30 * time.Minute
)

// State is the per-identifier counter record. The zero value means the
// identifier has no recorded failures and is not locked.
type State struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	LockedUntil time.Time `json:"locked_until"`
}

// IsZero reports whether the record carries no throttling state.
func (s State) IsZero() bool {
	return s.Failures == 0 && s.LastFailure.IsZero() && s.LockedUntil.IsZero()
}

// Store persists throttle state. Records carry a TTL so abandoned
// identifiers age out without explicit cleanup.
type Store interface {
	Get(ctx context.Context, key string) (State, error)
	Put(ctx context.Context, key string, s State, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Status is the outcome of a throttle decision.
type Status struct {
	// Locked reports whether the identifier is currently locked out.
	Locked bool

	// RetryAfter is how long until the lock expires. Zero when not locked.
	RetryAfter time.Duration

	// Remaining is how many more failures are tolerated before lockout.
	Remaining int
}

// Config tunes the lockout policy. Zero fields fall back to defaults.
type Config struct {
	MaxFailures  int
	Window       time.Duration
	LockDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.LockDuration <= 0 {
		c.LockDuration = DefaultLockDuration
	}
	return c
}

// Limiter applies the lockout policy on top of a Store.
type Limiter struct {
	store Store
	cfg   Config

	now func() time.Time // swappable in tests
}

func NewLimiter(store Store, cfg Config) *Limiter {
	return &Limiter{
		store: store,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// Check reports the identifier's current standing without mutating it.
// Call this before attempting credential verification: a locked identifier
// must be rejected without touching the password hash.
func (l *Limiter) Check(ctx context.Context, key string) (Status, error) {
	s, err := l.store.Get(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("throttle: get state: %w", err)
	}
	return l.status(s, l.now()), nil
}

// RecordFailure counts one failed attempt and returns the resulting
// standing. A failure arriving more than Window after the previous one
// restarts the count at one. The failure that reaches MaxFailures starts
// the lock.
func (l *Limiter) RecordFailure(ctx context.Context, key string) (Status, error) {
	now := l.now()

	s, err := l.store.Get(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("throttle: get state: %w", err)
	}

	if now.Before(s.LockedUntil) {
		// Attempts during an active lock do not extend it.
		return l.status(s, now), nil
	}

	if s.LastFailure.IsZero() || now.Sub(s.LastFailure) > l.cfg.Window {
		s.Failures = 0
	}
	s.Failures++
	s.LastFailure = now

	if s.Failures >= l.cfg.MaxFailures {
		s.LockedUntil = now.Add(l.cfg.LockDuration)
	} else {
		s.LockedUntil = time.Time{}
	}

	ttl := l.cfg.Window
	if !s.LockedUntil.IsZero() {
		ttl = l.cfg.LockDuration
	}
	if err := l.store.Put(ctx, key, s, ttl); err != nil {
		return Status{}, fmt.Errorf("throttle: put state: %w", err)
	}
	return l.status(s, now), nil
}

// RecordSuccess clears the identifier's failure count after a completed
// login. Locked identifiers never reach this path because Check rejects
// them first.
func (l *Limiter) RecordSuccess(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("throttle: delete state: %w", err)
	}
	return nil
}

func (l *Limiter) status(s State, now time.Time) Status {
	if now.Before(s.LockedUntil) {
		return Status{Locked: true, RetryAfter: s.LockedUntil.Sub(now)}
	}

	failures := s.Failures
	if s.LastFailure.IsZero() || now.Sub(s.LastFailure) > l.cfg.Window {
		failures = 0
	}
	remaining := l.cfg.MaxFailures - failures
	if remaining < 0 {
		remaining = 0
	}
	return Status{Remaining: remaining}
}
