package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Failures shared by every component. Transports map each to a single
// generic message.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccessDenied       = errors.New("access denied")
)

type RefreshTokenStore interface {
	Create(ctx context.Context, t RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (RefreshToken, error)
	// CompareAndRevoke persists next only if the stored row is still active.
	// It reports false when another writer got there first.
	CompareAndRevoke(ctx context.Context, next RefreshToken) (bool, error)
	RevokeFamily(ctx context.Context, tenantID, familyID uuid.UUID, reason RevokeReason, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, tenantID, userID uuid.UUID, reason RevokeReason, at time.Time, except *uuid.UUID) (int64, error)
	ListActive(ctx context.Context, tenantID, userID uuid.UUID, now time.Time) ([]RefreshToken, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type LoginAttemptStore interface {
	Record(ctx context.Context, a LoginAttempt) error
	ListSince(ctx context.Context, tenantID uuid.UUID, email string, since time.Time) ([]LoginAttempt, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ResetTokenStore interface {
	Create(ctx context.Context, t PasswordResetToken) error
	FindByHash(ctx context.Context, tokenHash string) (PasswordResetToken, error)
	InvalidateForUser(ctx context.Context, tenantID, userID uuid.UUID, at time.Time) (int64, error)
	CompareAndMarkUsed(ctx context.Context, next PasswordResetToken) (bool, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) bool
}

type PasswordBreachChecker interface {
	Check(ctx context.Context, plain string) error
}
