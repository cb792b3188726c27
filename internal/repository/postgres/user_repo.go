package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/domain/user"
)

var (
	_ user.Repo       = (*UserRepo)(nil)
	_ auth.RoleLookup = (*UserRepo)(nil)
)

// UserRepo reads the users and roles tables. Every query filters by tenant.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const (
	userColumns = `id, tenant_id, role_id, branch_id, email, full_name, password_hash, is_active, created_at, updated_at`

	qUserInsert = `
INSERT INTO users (id, tenant_id, role_id, branch_id, email, full_name, password_hash, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9);`

	qUserByID = `
SELECT ` + userColumns + `
FROM users
WHERE tenant_id = $1 AND id = $2;`

	qUserByEmail = `
SELECT ` + userColumns + `
FROM users
WHERE tenant_id = $1 AND lower(email) = lower($2);`

	qUserUpdatePassword = `
UPDATE users
SET password_hash = $3,
    updated_at    = $4
WHERE tenant_id = $1 AND id = $2;`

	qRoleCode = `
SELECT code
FROM roles
WHERE tenant_id = $1 AND id = $2;`
)

// Create inserts a user. A duplicate (tenant, email) yields ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u *user.User) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	_, err := r.db.execQueryer(ctx).Exec(ctx, qUserInsert,
		u.ID, u.TenantID, u.RoleID, u.BranchID, u.Email, u.FullName, u.PasswordHash, u.Active, u.CreatedAt)
	return mapErr("user insert", err)
}

func (r *UserRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserByID, tenantID, id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserByEmail, tenantID, email), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) UpdatePassword(ctx context.Context, tenantID, id uuid.UUID, hash string, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qUserUpdatePassword, tenantID, id, hash, at)
	if err != nil {
		return mapErr("user update password", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RoleOf decodes the tenant's role code once; callers switch on the result.
func (r *UserRepo) RoleOf(ctx context.Context, tenantID, roleID uuid.UUID) (auth.Role, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var code string
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qRoleCode, tenantID, roleID).Scan(&code); err != nil {
		return 0, mapErr("role lookup", err)
	}
	return auth.ParseRole(code)
}

func scanUser(row pgx.Row, out *user.User) error {
	err := row.Scan(&out.ID, &out.TenantID, &out.RoleID, &out.BranchID, &out.Email, &out.FullName,
		&out.PasswordHash, &out.Active, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return mapErr("scan user", err)
	}
	return nil
}
