package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Gatekeeper/internal/auth/keys"
	"github.com/NordCoder/Gatekeeper/internal/auth/lockout"
	"github.com/NordCoder/Gatekeeper/internal/auth/password"
	"github.com/NordCoder/Gatekeeper/internal/auth/ratelimit"
	"github.com/NordCoder/Gatekeeper/internal/auth/refresh"
	"github.com/NordCoder/Gatekeeper/internal/auth/reset"
	"github.com/NordCoder/Gatekeeper/internal/auth/token"
	domainauth "github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	"github.com/NordCoder/Gatekeeper/internal/domain/user"
	"github.com/NordCoder/Gatekeeper/internal/repository/memory"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

type events struct {
	mu  sync.Mutex
	got []notification.Event
}

func (e *events) Emit(_ context.Context, ev notification.Event) error {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
	return nil
}

func (e *events) kinds() []notification.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]notification.Kind, 0, len(e.got))
	for _, ev := range e.got {
		out = append(out, ev.Kind)
	}
	return out
}

type resetNotices struct {
	mu      sync.Mutex
	notices []reset.Notice
}

func (r *resetNotices) NotifyReset(_ context.Context, n reset.Notice) error {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
	return nil
}

type breach struct{ bad string }

func (b breach) Check(_ context.Context, plain string) error {
	if plain == b.bad {
		return &password.CompromisedError{Count: 7}
	}
	return nil
}

type env struct {
	uc       *Usecase
	users    *memory.Users
	roles    *memory.Roles
	attempts *memory.LoginAttempts
	engine   *refresh.Engine
	flow     *reset.Flow
	events   *events
	notices  *resetNotices
	hasher   *password.Hasher
	now      time.Time
	tenant   uuid.UUID
	owner    user.User
	cashier  user.User
}

const (
	ownerPassword   = "owner password 123"
	cashierPassword = "cashier password 123"
)

func newEnv(t *testing.T, limits ratelimit.Config) *env {
	t.Helper()
	e := &env{
		users:    memory.NewUsers(),
		roles:    memory.NewRoles(),
		attempts: memory.NewLoginAttempts(),
		events:   &events{},
		notices:  &resetNotices{},
		now:      time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		tenant:   uuid.New(),
	}
	clock := func() time.Time { return e.now }

	hasher, err := password.NewHasher(password.HasherConfig{
		Argon2: password.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1},
		Pepper: "c0ffee",
	}, nil)
	require.NoError(t, err)
	e.hasher = hasher

	key := signingKey(t)
	tokens, err := token.NewService(&keys.Material{Private: key, Public: &key.PublicKey}, token.Config{Issuer: "test"}, token.WithClock(clock))
	require.NoError(t, err)

	tx := memory.NewTransactor()
	e.engine = refresh.NewEngine(memory.NewRefreshTokens(), tx, refresh.Config{}, nil, refresh.WithClock(clock))
	e.flow = reset.NewFlow(reset.Deps{
		Store:    memory.NewResetTokens(),
		Users:    e.users,
		Hasher:   hasher,
		Policy:   password.DefaultPolicy(),
		Breach:   password.NopBreachChecker{},
		Sessions: e.engine,
		Events:   e.events,
		Notifier: e.notices,
		Tx:       tx,
	}, reset.Config{}, nil, reset.WithClock(clock))

	ownerRole, cashierRole := uuid.New(), uuid.New()
	e.roles.Put(e.tenant, ownerRole, "OWNER")
	e.roles.Put(e.tenant, cashierRole, "CASHIER")
	e.owner = e.addUser(t, "owner@shop.example", ownerPassword, ownerRole)
	e.cashier = e.addUser(t, "cashier@shop.example", cashierPassword, cashierRole)

	e.uc = NewUseCase(Deps{
		Tokens:  tokens,
		Engine:  e.engine,
		Limiter: ratelimit.NewLocal(limits, ratelimit.WithClock(clock)),
		Limits:  limits,
		Lockout: lockout.NewTracker(e.attempts, lockout.Policy{Enabled: true, MaxAttempts: 3}),
		Reset:   e.flow,
		Users:   e.users,
		Roles:   e.roles,
		Hasher:  hasher,
		Policy:  password.DefaultPolicy(),
		Breach:  breach{bad: "password123456"},
		Events:  e.events,
		Tx:      tx,
	}, nil, WithClock(clock))
	return e
}

func (e *env) addUser(t *testing.T, email, plain string, role uuid.UUID) user.User {
	t.Helper()
	hash, err := e.hasher.Hash(plain)
	require.NoError(t, err)
	u := user.User{ID: uuid.New(), TenantID: e.tenant, RoleID: role, Email: email, PasswordHash: hash, Active: true}
	e.users.Put(u)
	return u
}

func (e *env) login(email, plain string) (*Session, error) {
	return e.uc.Login(context.Background(), LoginInput{
		TenantID: e.tenant, Email: email, Password: plain, IP: "198.51.100.7", UserAgent: "test",
	})
}

func generous() ratelimit.Config {
	p := ratelimit.Policy{Capacity: 100, RefillTokens: 100, RefillPeriod: time.Minute}
	return ratelimit.Config{LoginIP: p, LoginEmail: p, PasswordReset: p}
}

func TestLogin_Success(t *testing.T) {
	e := newEnv(t, generous())
	s, err := e.login(e.cashier.Email, cashierPassword)
	require.NoError(t, err)

	assert.NotEmpty(t, s.AccessToken)
	assert.NotEmpty(t, s.RefreshToken)
	assert.Equal(t, domainauth.RoleCashier, s.Role)
	assert.Equal(t, e.now.Add(15*time.Minute), s.AccessExpiresAt)
	assert.Equal(t, e.now.Add(7*24*time.Hour), s.RefreshExpiresAt)

	p, err := e.uc.Authenticate(context.Background(), s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, e.cashier.ID, p.UserID)
	assert.Equal(t, e.tenant, p.TenantID)
	assert.Equal(t, domainauth.RoleCashier, p.Role)

	all := e.attempts.All()
	require.Len(t, all, 1)
	assert.True(t, all[0].Success)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	e := newEnv(t, generous())
	disabled := e.owner
	disabled.Active = false
	e.users.Put(disabled)

	_, errWrong := e.login(e.cashier.Email, "not the password")
	_, errUnknown := e.login("ghost@shop.example", "whatever it is")
	_, errDisabled := e.login(e.owner.Email, ownerPassword)

	for _, err := range []error{errWrong, errUnknown, errDisabled} {
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
	}

	reasons := map[domainauth.FailureReason]bool{}
	for _, a := range e.attempts.All() {
		reasons[a.FailureReason] = true
	}
	assert.True(t, reasons[domainauth.FailureBadCredentials])
	assert.True(t, reasons[domainauth.FailureUserNotFound])
	assert.True(t, reasons[domainauth.FailureAccountDisabled])
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	e := newEnv(t, generous())

	for range 3 {
		_, err := e.login(e.cashier.Email, "wrong password!")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	assert.Equal(t, []notification.Kind{notification.KindAccountLocked}, e.events.kinds())

	_, err := e.login(e.cashier.Email, cashierPassword)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.Equal(t, e.now.Add(15*time.Minute), locked.UnlockAt)
	assert.Equal(t, 15*time.Minute, locked.RetryAfter(e.now))

	// rejections while locked do not extend the lock or re-notify
	e.now = e.now.Add(10 * time.Minute)
	_, err = e.login(e.cashier.Email, "wrong password!")
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, e.now.Add(5*time.Minute), locked.UnlockAt)
	assert.Len(t, e.events.kinds(), 1)

	e.now = e.now.Add(5 * time.Minute)
	_, err = e.login(e.cashier.Email, cashierPassword)
	assert.NoError(t, err)

	// the success closed the old streak, one new failure is not a lock
	e.now = e.now.Add(time.Minute)
	_, err = e.login(e.cashier.Email, "wrong password!")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrAccountLocked)
	_, err = e.login(e.cashier.Email, cashierPassword)
	assert.NoError(t, err)
}

func TestLogin_LockoutIgnoresEmailCaseAndSpaces(t *testing.T) {
	e := newEnv(t, generous())

	for range 3 {
		_, err := e.login(e.cashier.Email, "wrong password!")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	variant := " " + strings.ToUpper(e.cashier.Email) + " "
	_, err := e.login(variant, cashierPassword)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)

	for _, a := range e.attempts.All() {
		assert.Equal(t, e.cashier.Email, a.Email)
	}

	e.now = e.now.Add(15 * time.Minute)
	_, err = e.login(variant, cashierPassword)
	assert.NoError(t, err)
}

func TestLogin_RateLimitedByEmail(t *testing.T) {
	limits := generous()
	limits.LoginEmail = ratelimit.Policy{Capacity: 2, RefillTokens: 2, RefillPeriod: time.Minute}
	e := newEnv(t, limits)

	for range 2 {
		_, err := e.login(e.owner.Email, ownerPassword)
		require.NoError(t, err)
	}
	_, err := e.login("  OWNER@shop.example ", ownerPassword)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
	assert.Len(t, e.attempts.All(), 2, "throttled requests never reach credential checks")
}

func TestLogin_RehashesLegacyHash(t *testing.T) {
	e := newEnv(t, generous())
	legacy, err := password.NewHasher(password.HasherConfig{
		Argon2: password.Argon2Params{Time: 1, MemoryKiB: 512, Threads: 1},
		Pepper: "c0ffee",
	}, nil)
	require.NoError(t, err)
	hash, err := legacy.Hash(ownerPassword)
	require.NoError(t, err)
	u := e.owner
	u.PasswordHash = hash
	e.users.Put(u)
	require.True(t, e.hasher.NeedsRehash(hash))

	_, err = e.login(e.owner.Email, ownerPassword)
	require.NoError(t, err)

	stored, err := e.users.GetByID(context.Background(), e.tenant, e.owner.ID)
	require.NoError(t, err)
	assert.False(t, e.hasher.NeedsRehash(stored.PasswordHash))
	assert.True(t, e.hasher.Verify(ownerPassword, stored.PasswordHash))
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	e := newEnv(t, generous())
	ctx := context.Background()
	s, err := e.login(e.cashier.Email, cashierPassword)
	require.NoError(t, err)

	e.now = e.now.Add(time.Minute)
	next, err := e.uc.Refresh(ctx, s.RefreshToken, "198.51.100.7", "test")
	require.NoError(t, err)
	assert.NotEqual(t, s.RefreshToken, next.RefreshToken)
	assert.Equal(t, e.now.Add(15*time.Minute), next.AccessExpiresAt)

	_, err = e.uc.Refresh(ctx, s.RefreshToken, "203.0.113.66", "attacker")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, refresh.ErrReuseDetected)
	assert.Equal(t, []notification.Kind{notification.KindSessionReuse}, e.events.kinds())

	_, err = e.uc.Refresh(ctx, next.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrInvalidToken, "family is revoked")
}

func TestRefresh_DisabledAccountCascades(t *testing.T) {
	e := newEnv(t, generous())
	ctx := context.Background()
	a, err := e.login(e.cashier.Email, cashierPassword)
	require.NoError(t, err)
	_, err = e.login(e.cashier.Email, cashierPassword)
	require.NoError(t, err)

	disabled := e.cashier
	disabled.Active = false
	e.users.Put(disabled)

	_, err = e.uc.Refresh(ctx, a.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	sessions, err := e.engine.ListActiveSessions(ctx, e.tenant, e.cashier.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLogout_RevokesAndIgnoresUnknown(t *testing.T) {
	e := newEnv(t, generous())
	ctx := context.Background()
	s, err := e.login(e.owner.Email, ownerPassword)
	require.NoError(t, err)

	require.NoError(t, e.uc.Logout(ctx, s.RefreshToken))
	require.NoError(t, e.uc.Logout(ctx, "not-a-token"))
	require.NoError(t, e.uc.Logout(ctx, ""))

	_, err = e.uc.Refresh(ctx, s.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_Rejects(t *testing.T) {
	e := newEnv(t, generous())
	ctx := context.Background()

	_, err := e.uc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	s, err := e.login(e.owner.Email, ownerPassword)
	require.NoError(t, err)
	e.now = e.now.Add(16 * time.Minute)
	_, err = e.uc.Authenticate(ctx, s.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessions_ListAndRevoke(t *testing.T) {
	e := newEnv(t, generous())
	ctx := context.Background()
	first, err := e.login(e.owner.Email, ownerPassword)
	require.NoError(t, err)
	second, err := e.login(e.owner.Email, ownerPassword)
	require.NoError(t, err)
	third, err := e.login(e.owner.Email, ownerPassword)
	require.NoError(t, err)

	p, err := e.uc.Authenticate(ctx, second.AccessToken)
	require.NoError(t, err)

	list, err := e.uc.Sessions(ctx, p)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	require.NoError(t, e.uc.RevokeSession(ctx, p, first.SessionID))
	n, err := e.uc.RevokeOtherSessions(ctx, p, second.SessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = e.uc.Refresh(ctx, third.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = e.uc.Refresh(ctx, second.RefreshToken, "", "")
	assert.NoError(t, err)
}

func TestRevokeUserSessions_RequiresAdministrator(t *testing.T) {
	e := newEnv(t, generous())
	ctx := context.Background()
	cs, err := e.login(e.cashier.Email, cashierPassword)
	require.NoError(t, err)
	ownerSess, err := e.login(e.owner.Email, ownerPassword)
	require.NoError(t, err)

	cashier, err := e.uc.Authenticate(ctx, cs.AccessToken)
	require.NoError(t, err)
	owner, err := e.uc.Authenticate(ctx, ownerSess.AccessToken)
	require.NoError(t, err)

	_, err = e.uc.RevokeUserSessions(ctx, cashier, e.owner.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = e.uc.RevokeUserSessions(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, ErrAccessDenied, "target outside the tenant")

	n, err := e.uc.RevokeUserSessions(ctx, owner, e.cashier.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = e.uc.Refresh(ctx, cs.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t, generous())
	ctx := context.Background()
	s, err := e.login(e.owner.Email, ownerPassword)
	require.NoError(t, err)
	p, err := e.uc.Authenticate(ctx, s.AccessToken)
	require.NoError(t, err)

	assert.ErrorIs(t, e.uc.ChangePassword(ctx, p, "wrong current", "new long password 1"), ErrInvalidCredentials)
	assert.ErrorIs(t, e.uc.ChangePassword(ctx, p, ownerPassword, "short"), password.ErrPolicy)
	assert.ErrorIs(t, e.uc.ChangePassword(ctx, p, ownerPassword, "password123456"), password.ErrCompromised)
	assert.Empty(t, e.events.kinds())

	require.NoError(t, e.uc.ChangePassword(ctx, p, ownerPassword, "new long password 1"))
	assert.Equal(t, []notification.Kind{notification.KindPasswordChanged}, e.events.kinds())

	_, err = e.uc.Refresh(ctx, s.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = e.login(e.owner.Email, ownerPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = e.login(e.owner.Email, "new long password 1")
	assert.NoError(t, err)
}

func TestForgotAndResetPassword(t *testing.T) {
	limits := generous()
	limits.PasswordReset = ratelimit.Policy{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Hour}
	e := newEnv(t, limits)
	ctx := context.Background()

	require.NoError(t, e.uc.ForgotPassword(ctx, e.tenant, e.cashier.Email, "192.0.2.9"))
	e.flow.Wait()
	err := e.uc.ForgotPassword(ctx, e.tenant, e.cashier.Email, "192.0.2.9")
	assert.True(t, errors.Is(err, ErrRateLimited))

	require.Len(t, e.notices.notices, 1)
	raw := e.notices.notices[0].Secret
	require.NoError(t, e.uc.ResetPassword(ctx, raw, "reset long password"))
	assert.ErrorIs(t, e.uc.ResetPassword(ctx, raw, "reset long password"), ErrInvalidToken)

	_, err = e.login(e.cashier.Email, "reset long password")
	assert.NoError(t, err)
}
