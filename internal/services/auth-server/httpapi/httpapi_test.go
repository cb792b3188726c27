package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Gatekeeper/internal/auth/password"
	domainauth "github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/domain/user"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/auth"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeService struct {
	loginErr   error
	lastLogin  auth.LoginInput
	refreshRaw string
	logoutRaw  string
	principal  *domainauth.Principal
	revoked    []uuid.UUID
	adminErr   error
	changeErr  error
	forgotErr  error
	resetErr   error
}

func (f *fakeService) session() *auth.Session {
	u := &user.User{ID: uuid.New(), TenantID: uuid.New(), Email: "m@shop.example"}
	return &auth.Session{
		AccessToken:      "access.jwt",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshToken:     "refresh-secret",
		RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
		SessionID:        uuid.New(),
		User:             u,
		Role:             domainauth.RoleManager,
	}
}

func (f *fakeService) Login(_ context.Context, in auth.LoginInput) (*auth.Session, error) {
	f.lastLogin = in
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.session(), nil
}

func (f *fakeService) Refresh(_ context.Context, raw, _, _ string) (*auth.Session, error) {
	f.refreshRaw = raw
	if raw != "refresh-secret" {
		return nil, auth.ErrInvalidToken
	}
	return f.session(), nil
}

func (f *fakeService) Logout(_ context.Context, raw string) error {
	f.logoutRaw = raw
	return nil
}

func (f *fakeService) ForgotPassword(context.Context, uuid.UUID, string, string) error {
	return f.forgotErr
}

func (f *fakeService) ResetPassword(context.Context, string, string) error { return f.resetErr }

func (f *fakeService) Authenticate(_ context.Context, raw string) (*domainauth.Principal, error) {
	if raw != "good" || f.principal == nil {
		return nil, auth.ErrInvalidToken
	}
	return f.principal, nil
}

func (f *fakeService) Sessions(context.Context, *domainauth.Principal) ([]domainauth.SessionInfo, error) {
	return []domainauth.SessionInfo{{ID: uuid.New(), IP: "192.0.2.1"}}, nil
}

func (f *fakeService) RevokeSession(_ context.Context, _ *domainauth.Principal, id uuid.UUID) error {
	f.revoked = append(f.revoked, id)
	return nil
}

func (f *fakeService) RevokeOtherSessions(context.Context, *domainauth.Principal, uuid.UUID) (int64, error) {
	return 2, nil
}

func (f *fakeService) RevokeUserSessions(context.Context, *domainauth.Principal, uuid.UUID) (int64, error) {
	if f.adminErr != nil {
		return 0, f.adminErr
	}
	return 3, nil
}

func (f *fakeService) ChangePassword(context.Context, *domainauth.Principal, string, string) error {
	return f.changeErr
}

func newServer(svc *fakeService, o Options) http.Handler {
	o.Now = func() time.Time { return now }
	return NewHandler(svc, o).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mods {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func withBearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func TestLogin_SetsCookieAndClientIP(t *testing.T) {
	svc := &fakeService{}
	h := newServer(svc, Options{})
	tenant := uuid.New()

	rec := do(t, h, http.MethodPost, "/v1/auth/login",
		`{"tenant_id":"`+tenant.String()+`","email":"m@shop.example","password":"pw"}`,
		func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1") },
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "203.0.113.9", svc.lastLogin.IP)
	assert.Equal(t, tenant, svc.lastLogin.TenantID)

	var body sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "access.jwt", body.AccessToken)
	assert.Equal(t, 900, body.ExpiresIn)
	assert.Equal(t, "manager", body.User.Role)
	assert.Empty(t, body.RefreshToken, "refresh token only travels in the cookie")

	res := rec.Result()
	require.Len(t, res.Cookies(), 1)
	c := res.Cookies()[0]
	assert.Equal(t, "refresh_token", c.Name)
	assert.Equal(t, "refresh-secret", c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/v1/auth", c.Path)
	assert.Equal(t, 7*24*3600, c.MaxAge)
}

func TestLogin_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		status     int
		retryAfter string
		message    string
	}{
		{"credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, "", msgCredentials},
		{"rate limited", &auth.RateLimitedError{RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, "2", msgRateLimited},
		{"locked", &auth.LockedError{UnlockAt: now.Add(90 * time.Second)}, http.StatusLocked, "90", msgLocked},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "", msgInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newServer(&fakeService{loginErr: tc.err}, Options{})
			rec := do(t, h, http.MethodPost, "/v1/auth/login",
				`{"tenant_id":"`+uuid.NewString()+`","email":"a@b.c","password":"pw"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))
			assert.Equal(t, tc.message, decodeError(t, rec).Message)
		})
	}
}

func TestLogin_BadRequest(t *testing.T) {
	h := newServer(&fakeService{}, Options{})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/auth/login", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/auth/login", `{"email":"a@b.c"}`).Code)
}

func TestRefresh_CookieOrBody(t *testing.T) {
	svc := &fakeService{}
	h := newServer(svc, Options{RefreshInBody: true})

	rec := do(t, h, http.MethodPost, "/v1/auth/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-secret"})
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "refresh-secret", body.RefreshToken)

	rec = do(t, h, http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"refresh-secret"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"stolen"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgToken, decodeError(t, rec).Message)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge, "cookie cleared on failure")

	rec = do(t, h, http.MethodPost, "/v1/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_ClearsCookie(t *testing.T) {
	svc := &fakeService{}
	h := newServer(svc, Options{})
	rec := do(t, h, http.MethodPost, "/v1/auth/logout", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-secret"})
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "refresh-secret", svc.logoutRaw)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestForgotPassword_AlwaysAccepted(t *testing.T) {
	h := newServer(&fakeService{}, Options{})
	rec := do(t, h, http.MethodPost, "/v1/auth/forgot-password", `{"tenant_id":"`+uuid.NewString()+`","email":"nobody@x.example"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	h = newServer(&fakeService{forgotErr: &auth.RateLimitedError{RetryAfter: 20 * time.Minute}}, Options{})
	rec = do(t, h, http.MethodPost, "/v1/auth/forgot-password", `{"tenant_id":"`+uuid.NewString()+`","email":"a@x.example"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1200", rec.Header().Get("Retry-After"))
}

func TestResetPassword_Mapping(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status int
	}{
		{nil, http.StatusNoContent},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
		{&password.PolicyError{Min: 12, Max: 128, Length: 3}, http.StatusBadRequest},
		{&password.CompromisedError{Count: 3}, http.StatusBadRequest},
		{password.ErrBreachUnavailable, http.StatusServiceUnavailable},
	} {
		h := newServer(&fakeService{resetErr: tc.err}, Options{})
		rec := do(t, h, http.MethodPost, "/v1/auth/reset-password", `{"token":"t","new_password":"p"}`)
		assert.Equal(t, tc.status, rec.Code, "%v", tc.err)
	}
}

func TestProtectedRoutes(t *testing.T) {
	p := &domainauth.Principal{UserID: uuid.New(), TenantID: uuid.New(), Role: domainauth.RoleCashier, Email: "c@shop.example"}
	svc := &fakeService{principal: p}
	h := newServer(svc, Options{})

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/auth/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/auth/me", "", withBearer("bad")).Code)

	rec := do(t, h, http.MethodGet, "/v1/auth/me", "", withBearer("good"))
	require.Equal(t, http.StatusOK, rec.Code)
	var me userView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, p.UserID, me.ID)
	assert.Equal(t, "cashier", me.Role)

	rec = do(t, h, http.MethodGet, "/v1/auth/sessions", "", withBearer("good"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "192.0.2.1")

	id := uuid.New()
	rec = do(t, h, http.MethodDelete, "/v1/auth/sessions/"+id.String(), "", withBearer("good"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, svc.revoked)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/v1/auth/sessions/nope", "", withBearer("good")).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/v1/auth/sessions", "", withBearer("good")).Code)

	rec = do(t, h, http.MethodDelete, "/v1/auth/sessions?keep="+uuid.NewString(), "", withBearer("good"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":2}`, rec.Body.String())
}

func TestAdminRevoke(t *testing.T) {
	p := &domainauth.Principal{UserID: uuid.New(), TenantID: uuid.New(), Role: domainauth.RoleCashier}
	h := newServer(&fakeService{principal: p, adminErr: auth.ErrAccessDenied}, Options{})
	rec := do(t, h, http.MethodDelete, "/v1/users/"+uuid.NewString()+"/sessions", "", withBearer("good"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	p.Role = domainauth.RoleOwner
	h = newServer(&fakeService{principal: p}, Options{})
	rec = do(t, h, http.MethodDelete, "/v1/users/"+uuid.NewString()+"/sessions", "", withBearer("good"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":3}`, rec.Body.String())
}

func TestChangePassword(t *testing.T) {
	p := &domainauth.Principal{UserID: uuid.New(), TenantID: uuid.New(), Role: domainauth.RoleOwner}
	h := newServer(&fakeService{principal: p}, Options{})
	rec := do(t, h, http.MethodPost, "/v1/auth/change-password", `{"current_password":"a","new_password":"b"}`, withBearer("good"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	h = newServer(&fakeService{principal: p, changeErr: auth.ErrInvalidCredentials}, Options{})
	rec = do(t, h, http.MethodPost, "/v1/auth/change-password", `{"current_password":"a","new_password":"b"}`, withBearer("good"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORS(t *testing.T) {
	h := newServer(&fakeService{}, Options{CORSOrigins: []string{"https://pos.example"}})
	rec := do(t, h, http.MethodOptions, "/v1/auth/login", "", func(r *http.Request) {
		r.Header.Set("Origin", "https://pos.example")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://pos.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = do(t, h, http.MethodOptions, "/v1/auth/login", "", func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example")
	})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
