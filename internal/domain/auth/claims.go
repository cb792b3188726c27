package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccessClaims is the identity asserted by an access token. It is never persisted.
type AccessClaims struct {
	ID        string
	Issuer    string
	UserID    uuid.UUID
	TenantID  uuid.UUID
	RoleID    uuid.UUID
	BranchID  *uuid.UUID
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Principal is the authenticated caller of a request, resolved once and
// passed explicitly to every operation that needs it.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	RoleID   uuid.UUID
	Role     Role
	BranchID *uuid.UUID
	Email    string
	TokenID  string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
