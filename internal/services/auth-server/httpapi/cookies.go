package httpapi

import (
	"net/http"
	"time"
)

type CookieConfig struct {
	Name   string `mapstructure:"name"`
	Domain string `mapstructure:"domain"`
	Path   string `mapstructure:"path"`
	Secure bool   `mapstructure:"secure"`
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = "refresh_token"
	}
	if c.Path == "" {
		c.Path = "/v1/auth"
	}
	return c
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, raw string, expires time.Time) {
	maxAge := int(expires.Sub(h.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    raw,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// refreshFrom prefers the cookie and falls back to the JSON body field.
func (h *Handler) refreshFrom(r *http.Request, body string) string {
	if c, err := r.Cookie(h.cookie.Name); err == nil && c.Value != "" {
		return c.Value
	}
	return body
}
