// Package ratelimit throttles credential endpoints with per-(purpose,
// identity) token buckets.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Purpose string

const (
	PurposeLoginIP       Purpose = "login-ip"
	PurposeLoginEmail    Purpose = "login-email"
	PurposePasswordReset Purpose = "password-reset"
)

// Limiter reports whether one more request for (purpose, identity) may
// proceed, consuming a token when it may.
type Limiter interface {
	TryConsume(ctx context.Context, purpose Purpose, identity string) bool
}

// Policy is a bucket of Capacity tokens refilled with RefillTokens every
// RefillPeriod, continuously.
type Policy struct {
	Capacity     int           `mapstructure:"capacity"`
	RefillTokens int           `mapstructure:"refill_tokens"`
	RefillPeriod time.Duration `mapstructure:"refill_period"`
}

// perSecond is the continuous refill rate.
func (p Policy) perSecond() float64 {
	if p.RefillPeriod <= 0 || p.RefillTokens <= 0 {
		return 0
	}
	return float64(p.RefillTokens) / p.RefillPeriod.Seconds()
}

// RetryAfter is how long an empty bucket takes to yield one token.
func (p Policy) RetryAfter() time.Duration {
	if p.RefillTokens <= 0 {
		return p.RefillPeriod
	}
	d := p.RefillPeriod / time.Duration(p.RefillTokens)
	if d < time.Second {
		return time.Second
	}
	return d
}

// fullRefill is the time an empty bucket needs to become full again.
func (p Policy) fullRefill() time.Duration {
	if p.RefillTokens <= 0 {
		return p.RefillPeriod
	}
	return time.Duration(float64(p.RefillPeriod) * float64(p.Capacity) / float64(p.RefillTokens))
}

type Config struct {
	// Backend is "local" (in-process) or "redis" (shared between replicas).
	Backend       string        `mapstructure:"backend"`
	MaxEntries    uint64        `mapstructure:"max_entries"`
	EntryTTL      time.Duration `mapstructure:"entry_ttl"`
	LoginIP       Policy        `mapstructure:"login_ip"`
	LoginEmail    Policy        `mapstructure:"login_email"`
	PasswordReset Policy        `mapstructure:"password_reset"`
}

func DefaultConfig() Config {
	return Config{
		Backend:       "local",
		MaxEntries:    10_000,
		EntryTTL:      time.Hour,
		LoginIP:       Policy{Capacity: 10, RefillTokens: 10, RefillPeriod: time.Minute},
		LoginEmail:    Policy{Capacity: 5, RefillTokens: 5, RefillPeriod: time.Minute},
		PasswordReset: Policy{Capacity: 3, RefillTokens: 3, RefillPeriod: time.Hour},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.EntryTTL <= 0 {
		c.EntryTTL = d.EntryTTL
	}
	c.LoginIP = c.LoginIP.or(d.LoginIP)
	c.LoginEmail = c.LoginEmail.or(d.LoginEmail)
	c.PasswordReset = c.PasswordReset.or(d.PasswordReset)
	return c
}

func (p Policy) or(d Policy) Policy {
	if p.Capacity <= 0 || p.RefillTokens <= 0 || p.RefillPeriod <= 0 {
		return d
	}
	return p
}

// Policy returns the bucket settings for a purpose. Unknown purposes get the
// strictest configured policy.
func (c Config) Policy(p Purpose) Policy {
	c = c.withDefaults()
	switch p {
	case PurposeLoginIP:
		return c.LoginIP
	case PurposeLoginEmail:
		return c.LoginEmail
	case PurposePasswordReset:
		return c.PasswordReset
	}
	return c.PasswordReset
}

// NormalizeIdentity folds emails so case and whitespace variants share a
// bucket. IPs are used as given.
func NormalizeIdentity(p Purpose, raw string) string {
	if p == PurposeLoginEmail {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return raw
}

func bucketKey(p Purpose, identity string) string {
	return string(p) + "|" + NormalizeIdentity(p, identity)
}

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_decisions_total",
		Help: "Rate limiter decisions by purpose and outcome.",
	}, []string{"purpose", "outcome"})
	storeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_store_errors_total",
		Help: "Shared limiter store failures (requests were allowed).",
	})
)

func observe(p Purpose, allowed bool) bool {
	outcome := "allowed"
	if !allowed {
		outcome = "limited"
	}
	decisions.WithLabelValues(string(p), outcome).Inc()
	return allowed
}
