package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refreshes_total",
		Help: "Refresh token rotations by outcome.",
	}, []string{"outcome"})
	reuseDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Refresh token families revoked after reuse.",
	})
	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	}, []string{"purpose"})
	lockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts that became locked.",
	})
	passwordChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_password_changes_total",
		Help: "Password changes by path.",
	}, []string{"path"})
)

const (
	outcomeSuccess     = "success"
	outcomeInvalid     = "invalid"
	outcomeLocked      = "locked"
	outcomeRateLimited = "rate_limited"
	outcomeReuse       = "reuse"
	outcomeDisabled    = "disabled"
	outcomeError       = "error"
)
