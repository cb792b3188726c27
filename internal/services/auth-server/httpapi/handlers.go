package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/NordCoder/Gatekeeper/internal/auth/clientip"
	domainauth "github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/auth"
)

type loginRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Email    string    `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userView struct {
	ID       uuid.UUID  `json:"id"`
	TenantID uuid.UUID  `json:"tenant_id"`
	Email    string     `json:"email"`
	Role     string     `json:"role"`
	BranchID *uuid.UUID `json:"branch_id,omitempty"`
}

type sessionResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        uuid.UUID `json:"session_id"`
	User             userView  `json:"user"`
}

type sessionView struct {
	ID        uuid.UUID `json:"id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type revokedResponse struct {
	Revoked int64 `json:"revoked"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TenantID == uuid.Nil || req.Email == "" || req.Password == "" {
		writeBadRequest(w, "tenant_id, email and password are required")
		return
	}
	s, err := h.svc.Login(r.Context(), auth.LoginInput{
		TenantID:  req.TenantID,
		Email:     req.Email,
		Password:  req.Password,
		IP:        clientip.FromRequest(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeSession(w, s)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	raw := h.refreshFrom(r, req.RefreshToken)
	if raw == "" {
		h.fail(w, r, auth.ErrInvalidToken)
		return
	}
	s, err := h.svc.Refresh(r.Context(), raw, clientip.FromRequest(r), r.UserAgent())
	if err != nil {
		h.clearRefreshCookie(w)
		h.fail(w, r, err)
		return
	}
	h.writeSession(w, s)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	if err := h.svc.Logout(r.Context(), h.refreshFrom(r, req.RefreshToken)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// forgotPassword answers 202 whether or not the account exists.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TenantID == uuid.Nil || req.Email == "" {
		writeBadRequest(w, "tenant_id and email are required")
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.TenantID, req.Email, clientip.FromRequest(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var req changeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	writeJSON(w, http.StatusOK, userView{
		ID:       p.UserID,
		TenantID: p.TenantID,
		Email:    p.Email,
		Role:     p.Role.String(),
		BranchID: p.BranchID,
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Sessions(r.Context(), principal(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{ID: s.ID, IP: s.IP, UserAgent: s.UserAgent, CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.RevokeSession(r.Context(), principal(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// revokeOtherSessions keeps the session named by ?keep=.
func (h *Handler) revokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	keep, err := uuid.Parse(r.URL.Query().Get("keep"))
	if err != nil {
		writeBadRequest(w, "keep must be a session id")
		return
	}
	n, err := h.svc.RevokeOtherSessions(r.Context(), principal(r), keep)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (h *Handler) revokeUserSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := h.svc.RevokeUserSessions(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (h *Handler) writeSession(w http.ResponseWriter, s *auth.Session) {
	h.setRefreshCookie(w, s.RefreshToken, s.RefreshExpiresAt)
	resp := sessionResponse{
		AccessToken:      s.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(s.AccessExpiresAt.Sub(h.now()).Seconds()),
		RefreshExpiresAt: s.RefreshExpiresAt,
		SessionID:        s.SessionID,
		User: userView{
			ID:       s.User.ID,
			TenantID: s.User.TenantID,
			Email:    s.User.Email,
			Role:     s.Role.String(),
			BranchID: s.User.BranchID,
		},
	}
	if h.inBody {
		resp.RefreshToken = s.RefreshToken
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// principal is set by RequireAuth on every route that calls it.
func principal(r *http.Request) *domainauth.Principal {
	p, _ := domainauth.PrincipalFrom(r.Context())
	return p
}
