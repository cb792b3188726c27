// Package reset implements single-use, time-limited password reset tokens.
// Requesting a reset never reveals whether the account exists: every path
// returns nil and takes at least MinResponseTime.
package reset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/auth/secret"
	"github.com/NordCoder/Gatekeeper/internal/domain"
	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	"github.com/NordCoder/Gatekeeper/internal/domain/user"
)

type Config struct {
	TTL             time.Duration `mapstructure:"ttl"`
	MinResponseTime time.Duration `mapstructure:"min_response_time"`
	NotifyTimeout   time.Duration `mapstructure:"notify_timeout"`
	Retention       time.Duration `mapstructure:"retention"`
	// ResetURL is the page that accepts ?token=; the raw secret is appended.
	ResetURL string `mapstructure:"reset_url"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.MinResponseTime < 0 {
		c.MinResponseTime = 0
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// Notice is handed to the Notifier. It is the only place the raw secret
// exists after RequestReset returns.
type Notice struct {
	TenantID  uuid.UUID
	UserID    uuid.UUID
	Email     string
	Secret    string
	ExpiresAt time.Time
	IP        string
	// RequestedAt is when the token was issued.
	RequestedAt time.Time
}

type Notifier interface {
	NotifyReset(ctx context.Context, n Notice) error
}

type PasswordValidator interface {
	Validate(plain string) error
}

// SessionRevoker is the refresh engine's bulk revoke.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, tenantID, userID uuid.UUID, reason auth.RevokeReason) (int64, error)
}

type Deps struct {
	Store    auth.ResetTokenStore
	Users    user.Repo
	Hasher   auth.PasswordHasher
	Policy   PasswordValidator
	Breach   auth.PasswordBreachChecker
	Sessions SessionRevoker
	Events   notification.Emitter
	Notifier Notifier
	Tx       auth.Transactor
}

type Flow struct {
	Deps
	cfg Config
	now func() time.Time
	log *zap.Logger
	wg  sync.WaitGroup
}

type Option func(*Flow)

func WithClock(now func() time.Time) Option { return func(f *Flow) { f.now = now } }

func NewFlow(deps Deps, cfg Config, log *zap.Logger, opts ...Option) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Flow{
		Deps: deps,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
		log:  log.With(zap.String("component", "reset")),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// RequestReset issues a token for an active account and dispatches it in the
// background. Unknown and inactive accounts do the same CPU work and
// persist nothing. Internal failures are logged, never returned.
func (f *Flow) RequestReset(ctx context.Context, tenantID uuid.UUID, email, ip string) error {
	started := time.Now()
	defer f.pad(ctx, started)

	u, err := f.Users.GetByEmail(ctx, tenantID, email)
	if err != nil || !u.Active {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			f.log.Error("reset lookup failed", zap.Error(err))
		}
		f.decoy()
		return nil
	}

	raw, err := secret.Generate(secret.DefaultBytes)
	if err != nil {
		f.log.Error("reset secret generation failed", zap.Error(err))
		return nil
	}
	now := f.now()
	tok := auth.PasswordResetToken{
		ID:        uuid.New(),
		TenantID:  u.TenantID,
		UserID:    u.ID,
		TokenHash: secret.Hash(raw),
		CreatedIP: ip,
		CreatedAt: now,
		ExpiresAt: now.Add(f.cfg.TTL),
	}

	err = f.Tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := f.Store.InvalidateForUser(ctx, u.TenantID, u.ID, now); err != nil {
			return fmt.Errorf("invalidate outstanding tokens: %w", err)
		}
		return f.Store.Create(ctx, tok)
	})
	if err != nil {
		f.log.Error("reset token not stored", zap.Error(err))
		return nil
	}

	f.dispatch(ctx, Notice{
		TenantID:    u.TenantID,
		UserID:      u.ID,
		Email:       u.Email,
		Secret:      raw,
		ExpiresAt:   tok.ExpiresAt,
		IP:          ip,
		RequestedAt: now,
	})
	return nil
}

// CompleteReset consumes a token and sets the new password. Every token
// problem is reported as auth.ErrInvalidToken. Password problems are checked
// before the token is consumed so a rejected password does not burn it.
func (f *Flow) CompleteReset(ctx context.Context, raw, newPassword string) error {
	if raw == "" {
		return auth.ErrInvalidToken
	}
	tok, err := f.Store.FindByHash(ctx, secret.Hash(raw))
	if errors.Is(err, domain.ErrNotFound) {
		return auth.ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("find reset token: %w", err)
	}
	now := f.now()
	if !tok.Valid(now) {
		return auth.ErrInvalidToken
	}

	u, err := f.Users.GetByID(ctx, tok.TenantID, tok.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return auth.ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !u.Active {
		return auth.ErrInvalidToken
	}

	if err := f.Policy.Validate(newPassword); err != nil {
		return err
	}
	if err := f.Breach.Check(ctx, newPassword); err != nil {
		return err
	}
	hash, err := f.Hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	used, err := tok.MarkUsed(now)
	if err != nil {
		return auth.ErrInvalidToken
	}
	errConsumed := errors.New("reset token consumed concurrently")
	err = f.Tx.WithTx(ctx, func(ctx context.Context) error {
		won, err := f.Store.CompareAndMarkUsed(ctx, used)
		if err != nil {
			return fmt.Errorf("mark reset token used: %w", err)
		}
		if !won {
			return errConsumed
		}
		if err := f.Users.UpdatePassword(ctx, u.TenantID, u.ID, hash, now); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if _, err := f.Sessions.RevokeAllForUser(ctx, u.TenantID, u.ID, auth.ReasonPasswordChange); err != nil {
			return err
		}
		return f.Events.Emit(ctx, notification.Event{
			Kind:       notification.KindPasswordChanged,
			TenantID:   u.TenantID,
			UserID:     u.ID,
			Email:      u.Email,
			OccurredAt: now,
		})
	})
	if errors.Is(err, errConsumed) {
		return auth.ErrInvalidToken
	}
	if err != nil {
		return err
	}
	f.log.Info("password reset completed",
		zap.String("tenant_id", u.TenantID.String()),
		zap.String("user_id", u.ID.String()),
	)
	return nil
}

// Purge deletes tokens used or expired longer ago than the retention.
func (f *Flow) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := f.Store.PurgeBefore(ctx, now.Add(-f.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	return n, nil
}

// Wait blocks until in-flight notifications finish. Used on shutdown.
func (f *Flow) Wait() { f.wg.Wait() }

func (f *Flow) dispatch(ctx context.Context, n Notice) {
	if f.Notifier == nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.NotifyTimeout)
		defer cancel()
		if err := f.Notifier.NotifyReset(nctx, n); err != nil {
			f.log.Error("reset notification failed",
				zap.String("tenant_id", n.TenantID.String()),
				zap.String("user_id", n.UserID.String()),
				zap.Error(err),
			)
		}
	}()
}

// decoy spends the same CPU as issuing a real token.
func (f *Flow) decoy() {
	raw, err := secret.Generate(secret.DefaultBytes)
	if err == nil {
		_ = secret.Hash(raw)
	}
}

func (f *Flow) pad(ctx context.Context, started time.Time) {
	remain := f.cfg.MinResponseTime - time.Since(started)
	if remain <= 0 {
		return
	}
	t := time.NewTimer(remain)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
