package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

var _ auth.LoginAttemptStore = (*LoginAttemptRepo)(nil)

// LoginAttemptRepo is append-only apart from retention purges.
type LoginAttemptRepo struct{ db *DB }

func NewLoginAttemptRepo(db *DB) *LoginAttemptRepo { return &LoginAttemptRepo{db: db} }

const (
	qAttemptInsert = `
INSERT INTO login_attempts (id, tenant_id, email, success, failure_reason, ip, user_agent, created_at)
VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8);`

	qAttemptSince = `
SELECT id, tenant_id, email, success, failure_reason, ip, user_agent, created_at
FROM login_attempts
WHERE tenant_id = $1 AND email = lower($2) AND created_at >= $3
ORDER BY created_at;`

	qAttemptPurge = `
DELETE FROM login_attempts
WHERE created_at < $1;`
)

func (r *LoginAttemptRepo) Record(ctx context.Context, a auth.LoginAttempt) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.db.execQueryer(ctx).Exec(ctx, qAttemptInsert,
		a.ID, a.TenantID, a.Email, a.Success, string(a.FailureReason), a.IP, a.UserAgent, a.CreatedAt)
	return mapErr("login attempt insert", err)
}

func (r *LoginAttemptRepo) ListSince(ctx context.Context, tenantID uuid.UUID, email string, since time.Time) ([]auth.LoginAttempt, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qAttemptSince, tenantID, email, since)
	if err != nil {
		return nil, mapErr("login attempts query", err)
	}
	defer rows.Close()

	var out []auth.LoginAttempt
	for rows.Next() {
		var (
			a      auth.LoginAttempt
			reason string
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Email, &a.Success, &reason, &a.IP, &a.UserAgent, &a.CreatedAt); err != nil {
			return nil, mapErr("scan login attempt", err)
		}
		a.FailureReason = auth.FailureReason(reason)
		out = append(out, a)
	}
	return out, mapErr("login attempt rows", rows.Err())
}

func (r *LoginAttemptRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qAttemptPurge, cutoff)
	if err != nil {
		return 0, mapErr("login attempt purge", err)
	}
	return tag.RowsAffected(), nil
}
