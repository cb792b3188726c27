package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

var _ auth.RefreshTokenStore = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct{ db *DB }

func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const (
	rtColumns = `id, tenant_id, user_id, family_id, token_hash, ip, user_agent, created_at, expires_at, revoked_at, COALESCE(revoked_reason, '')`

	qRTCreate = `
INSERT INTO refresh_tokens (id, tenant_id, user_id, family_id, token_hash, ip, user_agent, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	qRTByHash = `
SELECT ` + rtColumns + `
FROM refresh_tokens
WHERE token_hash = $1;`

	qRTByID = `
SELECT ` + rtColumns + `
FROM refresh_tokens
WHERE tenant_id = $1 AND id = $2;`

	// The guard makes rotation a compare-and-set: a row already revoked or
	// expired is left untouched and zero rows are reported.
	qRTCompareAndRevoke = `
UPDATE refresh_tokens
SET revoked_at = $3, revoked_reason = $4
WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL AND expires_at > $3;`

	qRTRevokeFamily = `
UPDATE refresh_tokens
SET revoked_at = $3, revoked_reason = $4
WHERE tenant_id = $1 AND family_id = $2 AND revoked_at IS NULL;`

	qRTRevokeUser = `
UPDATE refresh_tokens
SET revoked_at = $3, revoked_reason = $4
WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL
  AND ($5::uuid IS NULL OR id <> $5);`

	qRTListActive = `
SELECT ` + rtColumns + `
FROM refresh_tokens
WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL AND expires_at > $3
ORDER BY created_at DESC;`

	qRTPurge = `
DELETE FROM refresh_tokens
WHERE expires_at < $1 OR revoked_at < $1;`
)

func (r *RefreshTokenRepo) Create(ctx context.Context, t auth.RefreshToken) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err := r.db.execQueryer(ctx).Exec(ctx, qRTCreate,
		t.ID, t.TenantID, t.UserID, t.FamilyID, t.TokenHash, t.IP, t.UserAgent, t.CreatedAt, t.ExpiresAt)
	return mapErr("refresh insert", err)
}

func (r *RefreshTokenRepo) FindByHash(ctx context.Context, tokenHash string) (auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return scanRefresh(r.db.execQueryer(ctx).QueryRow(ctx, qRTByHash, tokenHash))
}

func (r *RefreshTokenRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return scanRefresh(r.db.execQueryer(ctx).QueryRow(ctx, qRTByID, tenantID, id))
}

func (r *RefreshTokenRepo) CompareAndRevoke(ctx context.Context, next auth.RefreshToken) (bool, error) {
	if next.RevokedAt == nil {
		return false, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTCompareAndRevoke,
		next.TenantID, next.ID, *next.RevokedAt, string(next.RevokedReason))
	if err != nil {
		return false, mapErr("refresh compare and revoke", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RefreshTokenRepo) RevokeFamily(ctx context.Context, tenantID, familyID uuid.UUID, reason auth.RevokeReason, at time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeFamily, tenantID, familyID, at, string(reason))
	if err != nil {
		return 0, mapErr("refresh revoke family", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, tenantID, userID uuid.UUID, reason auth.RevokeReason, at time.Time, except *uuid.UUID) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeUser, tenantID, userID, at, string(reason), except)
	if err != nil {
		return 0, mapErr("refresh revoke user", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepo) ListActive(ctx context.Context, tenantID, userID uuid.UUID, now time.Time) ([]auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qRTListActive, tenantID, userID, now)
	if err != nil {
		return nil, mapErr("refresh list active", err)
	}
	defer rows.Close()

	var out []auth.RefreshToken
	for rows.Next() {
		t, err := scanRefresh(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, mapErr("refresh list rows", rows.Err())
}

func (r *RefreshTokenRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTPurge, cutoff)
	if err != nil {
		return 0, mapErr("refresh purge", err)
	}
	return tag.RowsAffected(), nil
}

func scanRefresh(row pgx.Row) (auth.RefreshToken, error) {
	var (
		t      auth.RefreshToken
		reason string
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.UserID, &t.FamilyID, &t.TokenHash, &t.IP, &t.UserAgent,
		&t.CreatedAt, &t.ExpiresAt, &t.RevokedAt, &reason)
	if err != nil {
		return auth.RefreshToken{}, mapErr("scan refresh token", err)
	}
	t.RevokedReason = auth.RevokeReason(reason)
	return t, nil
}
