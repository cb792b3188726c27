package user

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repo is tenant scoped: a user is only visible through its own tenant.
type Repo interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*User, error)
	UpdatePassword(ctx context.Context, tenantID, id uuid.UUID, hash string, at time.Time) error
}
