// Package refresh implements refresh-token rotation with family-based reuse
// detection. A family is the chain of tokens descending from one login; a
// token presented after it was rotated away means the chain leaked, and the
// whole family is revoked.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/auth/secret"
	"github.com/NordCoder/Gatekeeper/internal/domain"
	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

var ErrReuseDetected = errors.New("refresh token reuse detected")

// ReuseError identifies the compromised family so callers can notify the
// account owner. It matches both ErrReuseDetected and auth.ErrInvalidToken.
type ReuseError struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	FamilyID uuid.UUID
	Revoked  int64
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("refresh token reuse detected in family %s", e.FamilyID)
}

func (e *ReuseError) Unwrap() []error { return []error{ErrReuseDetected, auth.ErrInvalidToken} }

var errLostRace = errors.New("refresh token rotated concurrently")

type Config struct {
	TTL         time.Duration `mapstructure:"ttl"`
	Retention   time.Duration `mapstructure:"retention"`
	SecretBytes int           `mapstructure:"secret_bytes"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.SecretBytes < secret.DefaultBytes {
		c.SecretBytes = secret.DefaultBytes
	}
	return c
}

type IssueRequest struct {
	TenantID  uuid.UUID
	UserID    uuid.UUID
	IP        string
	UserAgent string
}

// Issued holds the only copy of the raw secret; it is never stored.
type Issued struct {
	Secret   string
	FamilyID uuid.UUID
	Token    auth.RefreshToken
}

type Rotation struct {
	Secret string
	Token  auth.RefreshToken
}

type Engine struct {
	store auth.RefreshTokenStore
	tx    auth.Transactor
	cfg   Config
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store auth.RefreshTokenStore, tx auth.Transactor, cfg Config, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store: store,
		tx:    tx,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		log:   log.With(zap.String("component", "refresh")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) TTL() time.Duration { return e.cfg.TTL }

// Issue starts a new family for a fresh login.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	raw, tok, err := e.mint(req.TenantID, req.UserID, uuid.New(), req.IP, req.UserAgent)
	if err != nil {
		return Issued{}, err
	}
	if err := e.store.Create(ctx, tok); err != nil {
		return Issued{}, fmt.Errorf("store refresh token: %w", err)
	}
	return Issued{Secret: raw, FamilyID: tok.FamilyID, Token: tok}, nil
}

// Rotate exchanges a valid secret for its successor in the same family.
func (e *Engine) Rotate(ctx context.Context, raw, ip, userAgent string) (Rotation, error) {
	cur, err := e.lookup(ctx, raw)
	if err != nil {
		return Rotation{}, err
	}
	now := e.now()

	switch cur.State(now) {
	case auth.StateRotated, auth.StateRevoked:
		return Rotation{}, e.handleReuse(ctx, cur, now)
	case auth.StateExpired:
		// Never revoked, so nothing descends from it: no cascade needed.
		return Rotation{}, auth.ErrInvalidToken
	}

	var out Rotation
	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		spent, err := cur.Revoke(auth.ReasonRotated, now)
		if err != nil {
			return errLostRace
		}
		won, err := e.store.CompareAndRevoke(ctx, spent)
		if err != nil {
			return fmt.Errorf("revoke rotated token: %w", err)
		}
		if !won {
			return errLostRace
		}
		next, tok, err := e.mint(cur.TenantID, cur.UserID, cur.FamilyID, ip, userAgent)
		if err != nil {
			return err
		}
		if err := e.store.Create(ctx, tok); err != nil {
			return fmt.Errorf("store successor token: %w", err)
		}
		out = Rotation{Secret: next, Token: tok}
		return nil
	})
	switch {
	case errors.Is(err, errLostRace):
		return Rotation{}, e.handleReuse(ctx, cur, now)
	case err != nil:
		return Rotation{}, err
	}
	return out, nil
}

// Revoke is the logout path. Unknown and already revoked secrets succeed.
func (e *Engine) Revoke(ctx context.Context, raw string, reason auth.RevokeReason) error {
	cur, err := e.lookup(ctx, raw)
	if errors.Is(err, auth.ErrInvalidToken) {
		return nil
	}
	if err != nil {
		return err
	}
	next, err := cur.Revoke(reason, e.now())
	if errors.Is(err, auth.ErrAlreadyRevoked) {
		return nil
	}
	if _, err := e.store.CompareAndRevoke(ctx, next); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Lookup returns the stored token for a raw secret, or auth.ErrInvalidToken.
func (e *Engine) Lookup(ctx context.Context, raw string) (auth.RefreshToken, error) {
	return e.lookup(ctx, raw)
}

func (e *Engine) RevokeFamily(ctx context.Context, tenantID, familyID uuid.UUID, reason auth.RevokeReason) (int64, error) {
	n, err := e.store.RevokeFamily(ctx, tenantID, familyID, reason, e.now())
	if err != nil {
		return 0, fmt.Errorf("revoke family: %w", err)
	}
	return n, nil
}

func (e *Engine) RevokeAllForUser(ctx context.Context, tenantID, userID uuid.UUID, reason auth.RevokeReason) (int64, error) {
	n, err := e.store.RevokeAllForUser(ctx, tenantID, userID, reason, e.now(), nil)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return n, nil
}

// RevokeOtherSessions logs the user out everywhere except keepSessionID.
func (e *Engine) RevokeOtherSessions(ctx context.Context, tenantID, userID, keepSessionID uuid.UUID) (int64, error) {
	keep := keepSessionID
	n, err := e.store.RevokeAllForUser(ctx, tenantID, userID, auth.ReasonLogout, e.now(), &keep)
	if err != nil {
		return 0, fmt.Errorf("revoke other sessions: %w", err)
	}
	return n, nil
}

func (e *Engine) ListActiveSessions(ctx context.Context, tenantID, userID uuid.UUID) ([]auth.SessionInfo, error) {
	toks, err := e.store.ListActive(ctx, tenantID, userID, e.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.SliceStable(toks, func(i, j int) bool { return toks[i].CreatedAt.After(toks[j].CreatedAt) })
	out := make([]auth.SessionInfo, 0, len(toks))
	for _, t := range toks {
		out = append(out, t.Session())
	}
	return out, nil
}

// RevokeSession revokes one of the caller's own sessions. A session of
// another user or tenant is indistinguishable from a missing one.
func (e *Engine) RevokeSession(ctx context.Context, tenantID, requestingUserID, sessionID uuid.UUID) error {
	tok, err := e.store.GetByID(ctx, tenantID, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return auth.ErrAccessDenied
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if tok.TenantID != tenantID || tok.UserID != requestingUserID {
		e.log.Warn("session revoke denied",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", requestingUserID.String()),
		)
		return auth.ErrAccessDenied
	}
	next, err := tok.Revoke(auth.ReasonLogout, e.now())
	if errors.Is(err, auth.ErrAlreadyRevoked) {
		return nil
	}
	if _, err := e.store.CompareAndRevoke(ctx, next); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Purge deletes tokens that expired or were revoked longer ago than the
// retention period.
func (e *Engine) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.store.PurgeBefore(ctx, now.Add(-e.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return n, nil
}

func (e *Engine) lookup(ctx context.Context, raw string) (auth.RefreshToken, error) {
	if raw == "" {
		return auth.RefreshToken{}, auth.ErrInvalidToken
	}
	tok, err := e.store.FindByHash(ctx, secret.Hash(raw))
	if errors.Is(err, domain.ErrNotFound) {
		return auth.RefreshToken{}, auth.ErrInvalidToken
	}
	if err != nil {
		return auth.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return tok, nil
}

func (e *Engine) handleReuse(ctx context.Context, tok auth.RefreshToken, now time.Time) error {
	// Run as a transaction so the cascade is ordered after any rotation
	// still in flight for this family.
	var n int64
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = e.store.RevokeFamily(ctx, tok.TenantID, tok.FamilyID, auth.ReasonSuspiciousReuse, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("revoke family after reuse: %w", err)
	}
	e.log.Warn("refresh token reuse detected",
		zap.String("tenant_id", tok.TenantID.String()),
		zap.String("user_id", tok.UserID.String()),
		zap.String("family_id", tok.FamilyID.String()),
		zap.Int64("revoked", n),
	)
	return &ReuseError{TenantID: tok.TenantID, UserID: tok.UserID, FamilyID: tok.FamilyID, Revoked: n}
}

func (e *Engine) mint(tenantID, userID, familyID uuid.UUID, ip, userAgent string) (string, auth.RefreshToken, error) {
	raw, err := secret.Generate(e.cfg.SecretBytes)
	if err != nil {
		return "", auth.RefreshToken{}, fmt.Errorf("generate refresh secret: %w", err)
	}
	now := e.now()
	return raw, auth.RefreshToken{
		ID:        uuid.New(),
		TenantID:  tenantID,
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: secret.Hash(raw),
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.TTL),
	}, nil
}
