package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type RevokeReason string

const (
	ReasonRotated         RevokeReason = "rotated"
	ReasonLogout          RevokeReason = "logout"
	ReasonPasswordChange  RevokeReason = "password_change"
	ReasonSuspiciousReuse RevokeReason = "suspicious_reuse"
	ReasonAdminRevoked    RevokeReason = "admin_revoked"
	ReasonAccountDisabled RevokeReason = "account_disabled"
)

type TokenState int

const (
	StateActive TokenState = iota
	StateRotated
	StateRevoked
	StateExpired
)

func (s TokenState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRotated:
		return "rotated"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

var ErrAlreadyRevoked = errors.New("refresh token already revoked")

// RefreshToken is an immutable snapshot of a stored refresh token. State
// changes go through transition methods that return a new snapshot; stores
// persist them with conditional writes.
type RefreshToken struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	UserID        uuid.UUID
	FamilyID      uuid.UUID
	TokenHash     string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason RevokeReason
}

func (t RefreshToken) Revoked() bool { return t.RevokedAt != nil }

func (t RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// State derives the lifecycle state. Expired is computed, never stored.
func (t RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.RevokedAt != nil && t.RevokedReason == ReasonRotated:
		return StateRotated
	case t.RevokedAt != nil:
		return StateRevoked
	case t.Expired(now):
		return StateExpired
	}
	return StateActive
}

func (t RefreshToken) Valid(now time.Time) bool { return t.State(now) == StateActive }

// Revoke returns the revoked successor snapshot. Rotated and revoked are
// terminal, so revoking twice fails with ErrAlreadyRevoked.
func (t RefreshToken) Revoke(reason RevokeReason, at time.Time) (RefreshToken, error) {
	if t.RevokedAt != nil {
		return t, ErrAlreadyRevoked
	}
	ts := at
	next := t
	next.RevokedAt = &ts
	next.RevokedReason = reason
	return next, nil
}

func (t RefreshToken) Session() SessionInfo {
	return SessionInfo{
		ID:        t.ID,
		FamilyID:  t.FamilyID,
		IP:        t.IP,
		UserAgent: t.UserAgent,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

// SessionInfo is the user-facing view of an active refresh token.
type SessionInfo struct {
	ID        uuid.UUID
	FamilyID  uuid.UUID
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}
