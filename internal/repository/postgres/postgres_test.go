package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Gatekeeper/internal/domain"
	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	"github.com/NordCoder/Gatekeeper/internal/domain/user"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *DB) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock, NewWithPool(mock, time.Second)
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

var (
	tenant = uuid.MustParse("8f6d9b1e-5a1c-4c1e-9c11-000000000001")
	userID = uuid.MustParse("8f6d9b1e-5a1c-4c1e-9c11-000000000002")
	roleID = uuid.MustParse("8f6d9b1e-5a1c-4c1e-9c11-000000000003")
	at     = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
)

var userCols = []string{"id", "tenant_id", "role_id", "branch_id", "email", "full_name", "password_hash", "is_active", "created_at", "updated_at"}

func TestUserRepo_GetByEmail(t *testing.T) {
	mock, db := newMock(t)
	branch := uuid.New()
	mock.ExpectQuery(q(qUserByEmail)).
		WithArgs(tenant, "Cashier@Shop.example").
		WillReturnRows(mock.NewRows(userCols).
			AddRow(userID, tenant, roleID, &branch, "cashier@shop.example", "Cash Ier", "v1$hash", true, at, at))

	u, err := NewUserRepo(db).GetByEmail(context.Background(), tenant, "Cashier@Shop.example")
	require.NoError(t, err)
	assert.Equal(t, userID, u.ID)
	require.NotNil(t, u.BranchID)
	assert.Equal(t, branch, *u.BranchID)
	assert.True(t, u.Active)
}

func TestUserRepo_NotFoundIsDomainError(t *testing.T) {
	mock, db := newMock(t)
	mock.ExpectQuery(q(qUserByID)).
		WithArgs(tenant, userID).
		WillReturnRows(mock.NewRows(userCols))

	_, err := NewUserRepo(db).GetByID(context.Background(), tenant, userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserRepo_CreateConflict(t *testing.T) {
	mock, db := newMock(t)
	mock.ExpectExec(q(qUserInsert)).
		WithArgs(pgxmock.AnyArg(), tenant, roleID, (*uuid.UUID)(nil), "dup@shop.example", "", "h", true, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := NewUserRepo(db).Create(context.Background(), &user.User{TenantID: tenant, RoleID: roleID, Email: "dup@shop.example", PasswordHash: "h", Active: true})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUserRepo_UpdatePassword(t *testing.T) {
	mock, db := newMock(t)
	repo := NewUserRepo(db)
	mock.ExpectExec(q(qUserUpdatePassword)).
		WithArgs(tenant, userID, "v2$new", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q(qUserUpdatePassword)).
		WithArgs(uuid.Nil, userID, "v2$new", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.UpdatePassword(context.Background(), tenant, userID, "v2$new", at))
	assert.ErrorIs(t, repo.UpdatePassword(context.Background(), uuid.Nil, userID, "v2$new", at), domain.ErrNotFound)
}

func TestUserRepo_RoleOf(t *testing.T) {
	mock, db := newMock(t)
	repo := NewUserRepo(db)
	mock.ExpectQuery(q(qRoleCode)).WithArgs(tenant, roleID).
		WillReturnRows(mock.NewRows([]string{"code"}).AddRow("MANAGER"))
	mock.ExpectQuery(q(qRoleCode)).WithArgs(tenant, roleID).
		WillReturnRows(mock.NewRows([]string{"code"}).AddRow("JANITOR"))

	role, err := repo.RoleOf(context.Background(), tenant, roleID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleManager, role)

	_, err = repo.RoleOf(context.Background(), tenant, roleID)
	assert.ErrorIs(t, err, auth.ErrUnknownRole)
}

var rtCols = []string{"id", "tenant_id", "user_id", "family_id", "token_hash", "ip", "user_agent", "created_at", "expires_at", "revoked_at", "revoked_reason"}

func TestRefreshTokenRepo_FindByHash(t *testing.T) {
	mock, db := newMock(t)
	id, fam := uuid.New(), uuid.New()
	revoked := at.Add(time.Minute)
	mock.ExpectQuery(q(qRTByHash)).WithArgs("abc").
		WillReturnRows(mock.NewRows(rtCols).
			AddRow(id, tenant, userID, fam, "abc", "10.0.0.1", "ua", at, at.Add(time.Hour), &revoked, "rotated"))

	tok, err := NewRefreshTokenRepo(db).FindByHash(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, fam, tok.FamilyID)
	assert.Equal(t, auth.ReasonRotated, tok.RevokedReason)
	assert.Equal(t, auth.StateRotated, tok.State(at))
}

func TestRefreshTokenRepo_CompareAndRevoke(t *testing.T) {
	mock, db := newMock(t)
	repo := NewRefreshTokenRepo(db)
	tok := auth.RefreshToken{ID: uuid.New(), TenantID: tenant, ExpiresAt: at.Add(time.Hour)}
	next, err := tok.Revoke(auth.ReasonRotated, at)
	require.NoError(t, err)

	mock.ExpectExec(q(qRTCompareAndRevoke)).
		WithArgs(tenant, tok.ID, at, "rotated").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q(qRTCompareAndRevoke)).
		WithArgs(tenant, tok.ID, at, "rotated").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	won, err := repo.CompareAndRevoke(context.Background(), next)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.CompareAndRevoke(context.Background(), next)
	require.NoError(t, err)
	assert.False(t, won, "second writer loses")

	won, err = repo.CompareAndRevoke(context.Background(), tok)
	require.NoError(t, err)
	assert.False(t, won, "snapshot without revocation is ignored")
}

func TestRefreshTokenRepo_RevokeAllForUser(t *testing.T) {
	mock, db := newMock(t)
	repo := NewRefreshTokenRepo(db)
	keep := uuid.New()

	mock.ExpectExec(q(qRTRevokeUser)).
		WithArgs(tenant, userID, at, "password_change", (*uuid.UUID)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec(q(qRTRevokeUser)).
		WithArgs(tenant, userID, at, "logout", &keep).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := repo.RevokeAllForUser(context.Background(), tenant, userID, auth.ReasonPasswordChange, at, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = repo.RevokeAllForUser(context.Background(), tenant, userID, auth.ReasonLogout, at, &keep)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRefreshTokenRepo_ListActive(t *testing.T) {
	mock, db := newMock(t)
	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery(q(qRTListActive)).
		WithArgs(tenant, userID, at).
		WillReturnRows(mock.NewRows(rtCols).
			AddRow(b, tenant, userID, uuid.New(), "h2", "", "", at.Add(-time.Minute), at.Add(time.Hour), nil, "").
			AddRow(a, tenant, userID, uuid.New(), "h1", "", "", at.Add(-time.Hour), at.Add(time.Hour), nil, ""))

	list, err := NewRefreshTokenRepo(db).ListActive(context.Background(), tenant, userID, at)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b, list[0].ID)
	assert.Nil(t, list[0].RevokedAt)
}

func TestTransactor_CommitAndRollback(t *testing.T) {
	mock, db := newMock(t)
	tx := NewTransactor(db, nil)
	repo := NewRefreshTokenRepo(db)
	fam := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(q(qRTRevokeFamily)).
		WithArgs(tenant, fam, at, "suspicious_reuse").
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	mock.ExpectCommit()

	err := tx.WithTx(context.Background(), func(ctx context.Context) error {
		// nested calls join the outer transaction
		return tx.WithTx(ctx, func(ctx context.Context) error {
			_, err := repo.RevokeFamily(ctx, tenant, fam, auth.ReasonSuspiciousReuse, at)
			return err
		})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = tx.WithTx(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestLoginAttemptRepo_ListSince(t *testing.T) {
	mock, db := newMock(t)
	cols := []string{"id", "tenant_id", "email", "success", "failure_reason", "ip", "user_agent", "created_at"}
	mock.ExpectQuery(q(qAttemptSince)).
		WithArgs(tenant, "a@b.example", at).
		WillReturnRows(mock.NewRows(cols).
			AddRow(uuid.New(), tenant, "a@b.example", false, "account_locked", "1.2.3.4", "", at.Add(time.Second)))

	list, err := NewLoginAttemptRepo(db).ListSince(context.Background(), tenant, "a@b.example", at)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, auth.FailureAccountLocked, list[0].FailureReason)
	assert.False(t, list[0].CountsAsFailure())
}

func TestResetTokenRepo_CompareAndMarkUsed(t *testing.T) {
	mock, db := newMock(t)
	tok := auth.PasswordResetToken{ID: uuid.New(), TenantID: tenant, ExpiresAt: at.Add(time.Hour)}
	used, err := tok.MarkUsed(at)
	require.NoError(t, err)

	mock.ExpectExec(q(qResetMarkUsed)).
		WithArgs(tenant, tok.ID, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	won, err := NewResetTokenRepo(db).CompareAndMarkUsed(context.Background(), used)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestOutboxRepo_PickBatch(t *testing.T) {
	mock, db := newMock(t)
	cols := []string{"idempotency_key", "kind", "data", "status", "created_at", "updated_at", "traceparent", "tracestate", "baggage"}
	mock.ExpectQuery(q(qPick)).
		WithArgs(10, "60.000000 seconds").
		WillReturnRows(mock.NewRows(cols).
			AddRow("01J0000000000000000000000A", 2, []byte(`{"kind":"session_reuse_detected"}`), "IN_PROGRESS", at, at, "", "", ""))

	msgs, err := NewOutboxRepo(db).PickBatch(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 2, msgs[0].Kind)

	_, err = NewOutboxRepo(db).PickBatch(context.Background(), 0, time.Minute)
	assert.Error(t, err)
}

func TestOutboxRepo_MarkSuccessSkipsEmpty(t *testing.T) {
	mock, db := newMock(t)
	repo := NewOutboxRepo(db)
	require.NoError(t, repo.MarkSuccess(context.Background(), nil))

	mock.ExpectExec(q(qMarkSuccess)).
		WithArgs([]string{"a", "b"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	require.NoError(t, repo.MarkSuccess(context.Background(), []string{"a", "b"}))
}

func TestDeliveryRepo(t *testing.T) {
	mock, db := newMock(t)
	repo := NewDeliveryRepo(db)

	mock.ExpectQuery(q(qDeliveryExists)).WithArgs("evt-1").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(q(qDeliveryInsert)).
		WithArgs("evt-2", "account_locked", tenant, userID, &at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ok, err := repo.Delivered(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Record(context.Background(), notification.Delivery{
		EventID: "evt-2", Kind: notification.KindAccountLocked, TenantID: tenant, UserID: userID, SentAt: at,
	}))
}
