// Package lockout decides whether an account is temporarily locked after
// repeated failed logins.
package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

type Policy struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	Duration    time.Duration `mapstructure:"duration"`
	Retention   time.Duration `mapstructure:"retention"`
}

func DefaultPolicy() Policy {
	return Policy{
		Enabled:     true,
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Duration:    15 * time.Minute,
		Retention:   90 * 24 * time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Window <= 0 {
		p.Window = d.Window
	}
	if p.Duration <= 0 {
		p.Duration = d.Duration
	}
	if p.Retention <= 0 {
		p.Retention = d.Retention
	}
	return p
}

type Status struct {
	Locked   bool
	UnlockAt time.Time
	Failures int
}

// Evaluate is pure. Failures count only when they fall inside the window and
// after the most recent success; rejections of an already locked account do
// not count.
func (p Policy) Evaluate(attempts []auth.LoginAttempt, now time.Time) Status {
	p = p.withDefaults()
	if !p.Enabled {
		return Status{}
	}
	since := now.Add(-p.Window)

	var lastSuccess time.Time
	for _, a := range attempts {
		if a.Success && a.CreatedAt.After(lastSuccess) {
			lastSuccess = a.CreatedAt
		}
	}

	var (
		failures    int
		lastFailure time.Time
	)
	for _, a := range attempts {
		if !a.CountsAsFailure() {
			continue
		}
		if a.CreatedAt.Before(since) || a.CreatedAt.After(now) {
			continue
		}
		if !lastSuccess.IsZero() && !a.CreatedAt.After(lastSuccess) {
			continue
		}
		failures++
		if a.CreatedAt.After(lastFailure) {
			lastFailure = a.CreatedAt
		}
	}

	st := Status{Failures: failures}
	if failures >= p.MaxAttempts {
		unlock := lastFailure.Add(p.Duration)
		if now.Before(unlock) {
			st.Locked = true
			st.UnlockAt = unlock
		}
	}
	return st
}

type Tracker struct {
	store  auth.LoginAttemptStore
	policy Policy
}

func NewTracker(store auth.LoginAttemptStore, policy Policy) *Tracker {
	return &Tracker{store: store, policy: policy.withDefaults()}
}

func (t *Tracker) Policy() Policy { return t.policy }

// IsLocked reads just enough history to cover both the counting window and
// the lock duration that may still be running from it.
func (t *Tracker) IsLocked(ctx context.Context, tenantID uuid.UUID, email string, now time.Time) (Status, error) {
	if !t.policy.Enabled {
		return Status{}, nil
	}
	lookback := t.policy.Window
	if t.policy.Duration > lookback {
		lookback = t.policy.Duration
	}
	attempts, err := t.store.ListSince(ctx, tenantID, email, now.Add(-lookback))
	if err != nil {
		return Status{}, fmt.Errorf("list login attempts: %w", err)
	}
	return t.policy.Evaluate(attempts, now), nil
}

// Record appends unconditionally; locked-out attempts are audited too.
func (t *Tracker) Record(ctx context.Context, a auth.LoginAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := t.store.Record(ctx, a); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

func (t *Tracker) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := t.store.PurgeBefore(ctx, now.Add(-t.policy.Retention))
	if err != nil {
		return 0, fmt.Errorf("purge login attempts: %w", err)
	}
	return n, nil
}
