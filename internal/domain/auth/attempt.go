package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureBadCredentials  FailureReason = "bad_credentials"
	FailureUserNotFound    FailureReason = "user_not_found"
	FailureAccountDisabled FailureReason = "account_disabled"
	FailureAccountLocked   FailureReason = "account_locked"
)

// LoginAttempt is an append-only audit record.
type LoginAttempt struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Email         string
	Success       bool
	FailureReason FailureReason
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// CountsAsFailure excludes attempts rejected because the account was already
// locked: they are audited but never extend the lockout.
func (a LoginAttempt) CountsAsFailure() bool {
	return !a.Success && a.FailureReason != FailureAccountLocked
}

var ErrResetTokenUsed = errors.New("password reset token already used")

type PasswordResetToken struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedIP string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

func (t PasswordResetToken) Valid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// MarkUsed is one-way; a used token can never become valid again.
func (t PasswordResetToken) MarkUsed(at time.Time) (PasswordResetToken, error) {
	if t.UsedAt != nil {
		return t, ErrResetTokenUsed
	}
	ts := at
	next := t
	next.UsedAt = &ts
	return next, nil
}
