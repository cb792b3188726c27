package auth

import (
	"errors"
	"fmt"
	"time"

	domainauth "github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

var (
	ErrInvalidCredentials = domainauth.ErrInvalidCredentials
	ErrInvalidToken       = domainauth.ErrInvalidToken
	ErrAccessDenied       = domainauth.ErrAccessDenied
	ErrRateLimited        = errors.New("too many requests")
	ErrAccountLocked      = errors.New("account temporarily locked")
)

// RateLimitedError tells the transport how long to ask the client to wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// LockedError is returned while the (tenant, email) pair is locked out.
type LockedError struct {
	UnlockAt time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.UnlockAt.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RetryAfter is the whole seconds until unlock, at least one.
func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	d := e.UnlockAt.Sub(now).Round(time.Second)
	if d < time.Second {
		return time.Second
	}
	return d
}
