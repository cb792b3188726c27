package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/auth/password"
	"github.com/NordCoder/Gatekeeper/internal/obs"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/auth"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeBadRequest   = "bad_request"
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeRateLimited  = "rate_limited"
	codeLocked       = "account_locked"
	codeWeakPassword = "weak_password"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal_error"
)

// One message per class so responses never tell which check failed.
const (
	msgCredentials = "invalid email or password"
	msgToken       = "invalid or expired token"
	msgDenied      = "access denied"
	msgRateLimited = "too many requests"
	msgLocked      = "account temporarily locked"
	msgBreached    = "password has appeared in a data breach"
	msgUnavailable = "password check unavailable, try again later"
	msgInternal    = "internal server error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, codeBadRequest, message)
}

func retryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

// fail maps the façade's error taxonomy onto status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		limited *auth.RateLimitedError
		locked  *auth.LockedError
		policy  *password.PolicyError
	)
	switch {
	case errors.As(err, &limited):
		retryAfter(w, limited.RetryAfter)
		writeError(w, http.StatusTooManyRequests, codeRateLimited, msgRateLimited)
	case errors.As(err, &locked):
		retryAfter(w, locked.RetryAfter(h.now()))
		writeError(w, http.StatusLocked, codeLocked, msgLocked)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, msgCredentials)
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, msgToken)
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, http.StatusForbidden, codeForbidden, msgDenied)
	case errors.As(err, &policy):
		writeError(w, http.StatusBadRequest, codeWeakPassword, policy.Error())
	case errors.Is(err, password.ErrCompromised):
		writeError(w, http.StatusBadRequest, codeWeakPassword, msgBreached)
	case errors.Is(err, password.ErrBreachUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, msgUnavailable)
	default:
		obs.WithTrace(r.Context(), h.log).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, codeInternal, msgInternal)
	}
}
