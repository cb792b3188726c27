// Package httpapi is the REST transport of the auth server.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	domainauth "github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/auth"
)

// Service is the subset of the authentication façade the transport calls.
type Service interface {
	Login(ctx context.Context, in auth.LoginInput) (*auth.Session, error)
	Refresh(ctx context.Context, secret, ip, userAgent string) (*auth.Session, error)
	Logout(ctx context.Context, secret string) error
	ForgotPassword(ctx context.Context, tenantID uuid.UUID, email, ip string) error
	ResetPassword(ctx context.Context, secret, newPassword string) error
	Authenticate(ctx context.Context, accessToken string) (*domainauth.Principal, error)
	Sessions(ctx context.Context, p *domainauth.Principal) ([]domainauth.SessionInfo, error)
	RevokeSession(ctx context.Context, p *domainauth.Principal, sessionID uuid.UUID) error
	RevokeOtherSessions(ctx context.Context, p *domainauth.Principal, keep uuid.UUID) (int64, error)
	RevokeUserSessions(ctx context.Context, p *domainauth.Principal, target uuid.UUID) (int64, error)
	ChangePassword(ctx context.Context, p *domainauth.Principal, current, next string) error
}

type Options struct {
	Cookie CookieConfig
	// RefreshInBody also returns the refresh token in JSON, for clients
	// that cannot keep cookies.
	RefreshInBody bool
	CORSOrigins   []string
	Logger        *zap.Logger
	Now           func() time.Time
}

type Handler struct {
	svc    Service
	cookie CookieConfig
	inBody bool
	cors   []string
	log    *zap.Logger
	now    func() time.Time
}

func NewHandler(svc Service, o Options) *Handler {
	h := &Handler{
		svc:    svc,
		cookie: o.Cookie.withDefaults(),
		inBody: o.RefreshInBody,
		cors:   o.CORSOrigins,
		log:    o.Logger,
		now:    o.Now,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Routes builds the instrumented router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Use(cors(h.cors))
	r.Use(limitBody)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.Post("/logout", h.logout)
			r.Post("/forgot-password", h.forgotPassword)
			r.Post("/reset-password", h.resetPassword)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireAuth)
				r.Get("/me", h.me)
				r.Post("/change-password", h.changePassword)
				r.Get("/sessions", h.listSessions)
				r.Delete("/sessions", h.revokeOtherSessions)
				r.Delete("/sessions/{id}", h.revokeSession)
			})
		})
		r.With(h.RequireAuth).Delete("/users/{id}/sessions", h.revokeUserSessions)
	})

	return otelhttp.NewHandler(r, "auth-server")
}
