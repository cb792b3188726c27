package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

var _ auth.ResetTokenStore = (*ResetTokenRepo)(nil)

type ResetTokenRepo struct{ db *DB }

func NewResetTokenRepo(db *DB) *ResetTokenRepo { return &ResetTokenRepo{db: db} }

const (
	qResetInsert = `
INSERT INTO password_reset_tokens (id, tenant_id, user_id, token_hash, created_ip, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	qResetByHash = `
SELECT id, tenant_id, user_id, token_hash, created_ip, created_at, expires_at, used_at
FROM password_reset_tokens
WHERE token_hash = $1;`

	qResetInvalidate = `
UPDATE password_reset_tokens
SET used_at = $3
WHERE tenant_id = $1 AND user_id = $2 AND used_at IS NULL;`

	qResetMarkUsed = `
UPDATE password_reset_tokens
SET used_at = $3
WHERE tenant_id = $1 AND id = $2 AND used_at IS NULL AND expires_at > $3;`

	qResetPurge = `
DELETE FROM password_reset_tokens
WHERE expires_at < $1 OR used_at < $1;`
)

func (r *ResetTokenRepo) Create(ctx context.Context, t auth.PasswordResetToken) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err := r.db.execQueryer(ctx).Exec(ctx, qResetInsert,
		t.ID, t.TenantID, t.UserID, t.TokenHash, t.CreatedIP, t.CreatedAt, t.ExpiresAt)
	return mapErr("reset token insert", err)
}

func (r *ResetTokenRepo) FindByHash(ctx context.Context, tokenHash string) (auth.PasswordResetToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t auth.PasswordResetToken
	err := r.db.execQueryer(ctx).QueryRow(ctx, qResetByHash, tokenHash).
		Scan(&t.ID, &t.TenantID, &t.UserID, &t.TokenHash, &t.CreatedIP, &t.CreatedAt, &t.ExpiresAt, &t.UsedAt)
	if err != nil {
		return auth.PasswordResetToken{}, mapErr("reset token by hash", err)
	}
	return t, nil
}

func (r *ResetTokenRepo) InvalidateForUser(ctx context.Context, tenantID, userID uuid.UUID, at time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qResetInvalidate, tenantID, userID, at)
	if err != nil {
		return 0, mapErr("reset token invalidate", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ResetTokenRepo) CompareAndMarkUsed(ctx context.Context, next auth.PasswordResetToken) (bool, error) {
	if next.UsedAt == nil {
		return false, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qResetMarkUsed, next.TenantID, next.ID, *next.UsedAt)
	if err != nil {
		return false, mapErr("reset token mark used", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ResetTokenRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qResetPurge, cutoff)
	if err != nil {
		return 0, mapErr("reset token purge", err)
	}
	return tag.RowsAffected(), nil
}
