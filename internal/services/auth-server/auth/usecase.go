// Package auth is the authentication façade: it composes the token service,
// refresh engine, rate limiter, lockout tracker and reset flow into the
// operations the transports expose.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/auth/lockout"
	"github.com/NordCoder/Gatekeeper/internal/auth/ratelimit"
	"github.com/NordCoder/Gatekeeper/internal/auth/refresh"
	"github.com/NordCoder/Gatekeeper/internal/domain"
	domainauth "github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	"github.com/NordCoder/Gatekeeper/internal/domain/user"
	"github.com/NordCoder/Gatekeeper/internal/obs"
)

type TokenService interface {
	Mint(c domainauth.AccessClaims) (string, domainauth.AccessClaims, error)
	Validate(raw string) (*domainauth.AccessClaims, error)
}

type SessionEngine interface {
	Issue(ctx context.Context, req refresh.IssueRequest) (refresh.Issued, error)
	Rotate(ctx context.Context, raw, ip, userAgent string) (refresh.Rotation, error)
	Revoke(ctx context.Context, raw string, reason domainauth.RevokeReason) error
	RevokeAllForUser(ctx context.Context, tenantID, userID uuid.UUID, reason domainauth.RevokeReason) (int64, error)
	RevokeOtherSessions(ctx context.Context, tenantID, userID, keepSessionID uuid.UUID) (int64, error)
	ListActiveSessions(ctx context.Context, tenantID, userID uuid.UUID) ([]domainauth.SessionInfo, error)
	RevokeSession(ctx context.Context, tenantID, requestingUserID, sessionID uuid.UUID) error
}

type LockoutTracker interface {
	Policy() lockout.Policy
	IsLocked(ctx context.Context, tenantID uuid.UUID, email string, now time.Time) (lockout.Status, error)
	Record(ctx context.Context, a domainauth.LoginAttempt) error
}

type ResetFlow interface {
	RequestReset(ctx context.Context, tenantID uuid.UUID, email, ip string) error
	CompleteReset(ctx context.Context, raw, newPassword string) error
}

type Hasher interface {
	domainauth.PasswordHasher
	DummyVerify(plain string)
	NeedsRehash(encoded string) bool
}

type PasswordPolicy interface {
	Validate(plain string) error
}

type Deps struct {
	Tokens  TokenService
	Engine  SessionEngine
	Limiter ratelimit.Limiter
	Limits  ratelimit.Config
	Lockout LockoutTracker
	Reset   ResetFlow
	Users   user.Repo
	Roles   domainauth.RoleLookup
	Hasher  Hasher
	Policy  PasswordPolicy
	Breach  domainauth.PasswordBreachChecker
	Events  notification.Emitter
	Tx      domainauth.Transactor
}

type Usecase struct {
	Deps
	log *zap.Logger
	now func() time.Time
	tr  trace.Tracer
}

type Option func(*Usecase)

func WithClock(now func() time.Time) Option { return func(u *Usecase) { u.now = now } }

func NewUseCase(deps Deps, log *zap.Logger, opts ...Option) *Usecase {
	if log == nil {
		log = zap.NewNop()
	}
	u := &Usecase{
		Deps: deps,
		log:  log.With(zap.String("component", "auth.usecase")),
		now:  func() time.Time { return time.Now().UTC() },
		tr:   otel.Tracer("auth.usecase"),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

type LoginInput struct {
	TenantID  uuid.UUID
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// Session is what a successful login or refresh hands back to the client.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        uuid.UUID
	User             *user.User
	Role             domainauth.Role
}

// Login authenticates by email and password. Unknown email, wrong password
// and disabled account are indistinguishable to the caller.
func (u *Usecase) Login(ctx context.Context, in LoginInput) (_ *Session, err error) {
	ctx, span := u.tr.Start(ctx, "auth.Login", trace.WithAttributes(attribute.String("tenant_id", in.TenantID.String())))
	defer func() { endSpan(span, err) }()

	// One key for the limiter, the lockout window and the user lookup.
	in.Email = ratelimit.NormalizeIdentity(ratelimit.PurposeLoginEmail, in.Email)

	if err := u.limit(ctx, ratelimit.PurposeLoginIP, in.IP); err != nil {
		loginsTotal.WithLabelValues(outcomeRateLimited).Inc()
		return nil, err
	}
	if err := u.limit(ctx, ratelimit.PurposeLoginEmail, in.Email); err != nil {
		loginsTotal.WithLabelValues(outcomeRateLimited).Inc()
		return nil, err
	}

	now := u.now()
	st, err := u.Lockout.IsLocked(ctx, in.TenantID, in.Email, now)
	if err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	if st.Locked {
		u.Hasher.DummyVerify(in.Password)
		if err := u.Lockout.Record(ctx, attempt(in, now, domainauth.FailureAccountLocked)); err != nil {
			return nil, err
		}
		loginsTotal.WithLabelValues(outcomeLocked).Inc()
		return nil, &LockedError{UnlockAt: st.UnlockAt}
	}

	usr, err := u.Users.GetByEmail(ctx, in.TenantID, in.Email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		u.Hasher.DummyVerify(in.Password)
		return nil, u.loginFailed(ctx, in, nil, now, domainauth.FailureUserNotFound)
	case err != nil:
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !u.Hasher.Verify(in.Password, usr.PasswordHash) {
		return nil, u.loginFailed(ctx, in, usr, now, domainauth.FailureBadCredentials)
	}
	if !usr.Active {
		return nil, u.loginFailed(ctx, in, usr, now, domainauth.FailureAccountDisabled)
	}

	role, err := u.Roles.RoleOf(ctx, usr.TenantID, usr.RoleID)
	if err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("resolve role: %w", err)
	}

	if err := u.Lockout.Record(ctx, attempt(in, now, domainauth.FailureNone)); err != nil {
		return nil, err
	}
	u.rehashIfNeeded(ctx, usr, in.Password, now)

	iss, err := u.Engine.Issue(ctx, refresh.IssueRequest{
		TenantID: usr.TenantID, UserID: usr.ID, IP: in.IP, UserAgent: in.UserAgent,
	})
	if err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	access, claims, err := u.Tokens.Mint(accessClaims(usr))
	if err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	loginsTotal.WithLabelValues(outcomeSuccess).Inc()
	obs.WithTrace(ctx, u.log).Info("login succeeded",
		zap.String("tenant_id", usr.TenantID.String()),
		zap.String("user_id", usr.ID.String()),
	)
	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt,
		RefreshToken:     iss.Secret,
		RefreshExpiresAt: iss.Token.ExpiresAt,
		SessionID:        iss.Token.ID,
		User:             usr,
		Role:             role,
	}, nil
}

// loginFailed records the failure and emits account_locked when this very
// failure tipped the account over the threshold.
func (u *Usecase) loginFailed(ctx context.Context, in LoginInput, usr *user.User, now time.Time, reason domainauth.FailureReason) error {
	loginsTotal.WithLabelValues(outcomeInvalid).Inc()
	err := u.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := u.Lockout.Record(ctx, attempt(in, now, reason)); err != nil {
			return err
		}
		st, err := u.Lockout.IsLocked(ctx, in.TenantID, in.Email, now)
		if err != nil {
			return err
		}
		if !st.Locked || st.Failures != u.Lockout.Policy().MaxAttempts {
			return nil
		}
		lockouts.Inc()
		obs.WithTrace(ctx, u.log).Warn("account locked",
			zap.String("tenant_id", in.TenantID.String()),
			zap.String("email", in.Email),
			zap.Time("unlock_at", st.UnlockAt),
		)
		if usr == nil {
			return nil
		}
		unlock := st.UnlockAt
		return u.Events.Emit(ctx, notification.Event{
			Kind:       notification.KindAccountLocked,
			TenantID:   usr.TenantID,
			UserID:     usr.ID,
			Email:      usr.Email,
			UnlockAt:   &unlock,
			IP:         in.IP,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	return ErrInvalidCredentials
}

// Refresh rotates the refresh token and mints a new access token with the
// user's current role and branch.
func (u *Usecase) Refresh(ctx context.Context, secret, ip, userAgent string) (_ *Session, err error) {
	ctx, span := u.tr.Start(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()

	rot, err := u.Engine.Rotate(ctx, secret, ip, userAgent)
	if err != nil {
		var reuse *refresh.ReuseError
		if errors.As(err, &reuse) {
			refreshesTotal.WithLabelValues(outcomeReuse).Inc()
			reuseDetected.Inc()
			u.notifyReuse(ctx, reuse, ip)
			return nil, err
		}
		if errors.Is(err, ErrInvalidToken) {
			refreshesTotal.WithLabelValues(outcomeInvalid).Inc()
		} else {
			refreshesTotal.WithLabelValues(outcomeError).Inc()
		}
		return nil, err
	}

	tok := rot.Token
	usr, err := u.Users.GetByID(ctx, tok.TenantID, tok.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		refreshesTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("load user: %w", err)
	}
	if usr == nil || !usr.Active {
		if _, err := u.Engine.RevokeAllForUser(ctx, tok.TenantID, tok.UserID, domainauth.ReasonAccountDisabled); err != nil {
			return nil, err
		}
		refreshesTotal.WithLabelValues(outcomeDisabled).Inc()
		return nil, ErrInvalidToken
	}

	role, err := u.Roles.RoleOf(ctx, usr.TenantID, usr.RoleID)
	if err != nil {
		refreshesTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	access, claims, err := u.Tokens.Mint(accessClaims(usr))
	if err != nil {
		refreshesTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	refreshesTotal.WithLabelValues(outcomeSuccess).Inc()
	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt,
		RefreshToken:     rot.Secret,
		RefreshExpiresAt: tok.ExpiresAt,
		SessionID:        tok.ID,
		User:             usr,
		Role:             role,
	}, nil
}

func (u *Usecase) notifyReuse(ctx context.Context, reuse *refresh.ReuseError, ip string) {
	usr, err := u.Users.GetByID(ctx, reuse.TenantID, reuse.UserID)
	if err != nil {
		obs.WithTrace(ctx, u.log).Warn("reuse notification skipped", zap.Error(err))
		return
	}
	err = u.Events.Emit(ctx, notification.Event{
		Kind:       notification.KindSessionReuse,
		TenantID:   usr.TenantID,
		UserID:     usr.ID,
		Email:      usr.Email,
		IP:         ip,
		OccurredAt: u.now(),
	})
	if err != nil {
		obs.WithTrace(ctx, u.log).Error("reuse notification not queued", zap.Error(err))
	}
}

// Logout revokes the refresh token. Unknown tokens are not an error.
func (u *Usecase) Logout(ctx context.Context, secret string) error {
	ctx, span := u.tr.Start(ctx, "auth.Logout")
	defer span.End()
	if secret == "" {
		return nil
	}
	return u.Engine.Revoke(ctx, secret, domainauth.ReasonLogout)
}

// ForgotPassword never reveals whether the account exists.
func (u *Usecase) ForgotPassword(ctx context.Context, tenantID uuid.UUID, email, ip string) (err error) {
	ctx, span := u.tr.Start(ctx, "auth.ForgotPassword")
	defer func() { endSpan(span, err) }()

	if err := u.limit(ctx, ratelimit.PurposePasswordReset, ip); err != nil {
		return err
	}
	return u.Reset.RequestReset(ctx, tenantID, email, ip)
}

func (u *Usecase) ResetPassword(ctx context.Context, secret, newPassword string) (err error) {
	ctx, span := u.tr.Start(ctx, "auth.ResetPassword")
	defer func() { endSpan(span, err) }()

	if err := u.Reset.CompleteReset(ctx, secret, newPassword); err != nil {
		return err
	}
	passwordChanges.WithLabelValues("reset").Inc()
	return nil
}

// Authenticate validates an access token and decodes the role once.
func (u *Usecase) Authenticate(ctx context.Context, accessToken string) (*domainauth.Principal, error) {
	claims, err := u.Tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}
	role, err := u.Roles.RoleOf(ctx, claims.TenantID, claims.RoleID)
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domainauth.ErrUnknownRole) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	return &domainauth.Principal{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		RoleID:   claims.RoleID,
		Role:     role,
		BranchID: claims.BranchID,
		Email:    claims.Email,
		TokenID:  claims.ID,
	}, nil
}

func (u *Usecase) Sessions(ctx context.Context, p *domainauth.Principal) ([]domainauth.SessionInfo, error) {
	return u.Engine.ListActiveSessions(ctx, p.TenantID, p.UserID)
}

func (u *Usecase) RevokeSession(ctx context.Context, p *domainauth.Principal, sessionID uuid.UUID) error {
	return u.Engine.RevokeSession(ctx, p.TenantID, p.UserID, sessionID)
}

func (u *Usecase) RevokeOtherSessions(ctx context.Context, p *domainauth.Principal, keep uuid.UUID) (int64, error) {
	return u.Engine.RevokeOtherSessions(ctx, p.TenantID, p.UserID, keep)
}

// RevokeUserSessions signs another user of the same tenant out everywhere.
// Only owners and managers may do it.
func (u *Usecase) RevokeUserSessions(ctx context.Context, p *domainauth.Principal, target uuid.UUID) (int64, error) {
	if !p.Role.CanAdministerSessions() {
		return 0, ErrAccessDenied
	}
	if _, err := u.Users.GetByID(ctx, p.TenantID, target); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, ErrAccessDenied
		}
		return 0, err
	}
	n, err := u.Engine.RevokeAllForUser(ctx, p.TenantID, target, domainauth.ReasonAdminRevoked)
	if err != nil {
		return 0, err
	}
	obs.WithTrace(ctx, u.log).Info("sessions revoked by administrator",
		zap.String("tenant_id", p.TenantID.String()),
		zap.String("admin_id", p.UserID.String()),
		zap.String("user_id", target.String()),
		zap.Int64("revoked", n),
	)
	return n, nil
}

// ChangePassword requires the current password and signs the user out of
// every session.
func (u *Usecase) ChangePassword(ctx context.Context, p *domainauth.Principal, current, next string) (err error) {
	ctx, span := u.tr.Start(ctx, "auth.ChangePassword")
	defer func() { endSpan(span, err) }()

	usr, err := u.Users.GetByID(ctx, p.TenantID, p.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !usr.Active {
		return ErrInvalidToken
	}
	if !u.Hasher.Verify(current, usr.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := u.Policy.Validate(next); err != nil {
		return err
	}
	if err := u.Breach.Check(ctx, next); err != nil {
		return err
	}
	hash, err := u.Hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := u.now()
	err = u.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := u.Users.UpdatePassword(ctx, usr.TenantID, usr.ID, hash, now); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if _, err := u.Engine.RevokeAllForUser(ctx, usr.TenantID, usr.ID, domainauth.ReasonPasswordChange); err != nil {
			return err
		}
		return u.Events.Emit(ctx, notification.Event{
			Kind:       notification.KindPasswordChanged,
			TenantID:   usr.TenantID,
			UserID:     usr.ID,
			Email:      usr.Email,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	passwordChanges.WithLabelValues("change").Inc()
	return nil
}

func (u *Usecase) limit(ctx context.Context, p ratelimit.Purpose, identity string) error {
	if u.Limiter.TryConsume(ctx, p, identity) {
		return nil
	}
	rateLimited.WithLabelValues(string(p)).Inc()
	return &RateLimitedError{RetryAfter: u.Limits.Policy(p).RetryAfter()}
}

func (u *Usecase) rehashIfNeeded(ctx context.Context, usr *user.User, plain string, now time.Time) {
	if !u.Hasher.NeedsRehash(usr.PasswordHash) {
		return
	}
	hash, err := u.Hasher.Hash(plain)
	if err == nil {
		err = u.Users.UpdatePassword(ctx, usr.TenantID, usr.ID, hash, now)
	}
	if err != nil {
		obs.WithTrace(ctx, u.log).Warn("password rehash failed", zap.String("user_id", usr.ID.String()), zap.Error(err))
		return
	}
	usr.PasswordHash = hash
}

func attempt(in LoginInput, now time.Time, reason domainauth.FailureReason) domainauth.LoginAttempt {
	return domainauth.LoginAttempt{
		TenantID:      in.TenantID,
		Email:         in.Email,
		Success:       reason == domainauth.FailureNone,
		FailureReason: reason,
		IP:            in.IP,
		UserAgent:     in.UserAgent,
		CreatedAt:     now,
	}
}

func accessClaims(usr *user.User) domainauth.AccessClaims {
	return domainauth.AccessClaims{
		UserID:   usr.ID,
		TenantID: usr.TenantID,
		RoleID:   usr.RoleID,
		BranchID: usr.BranchID,
		Email:    usr.Email,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrInvalidCredentials) && !errors.Is(err, ErrInvalidToken) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
