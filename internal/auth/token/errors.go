package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

type Reason string

const (
	ReasonExpired        Reason = "expired"
	ReasonMalformed      Reason = "malformed"
	ReasonBadSignature   Reason = "bad_signature"
	ReasonWrongAlgorithm Reason = "wrong_algorithm"
	ReasonInvalidClaims  Reason = "invalid_claims"
)

// InvalidTokenError carries the precise rejection reason for logs and
// metrics. Callers outside this package should only test
// errors.Is(err, auth.ErrInvalidToken).
type InvalidTokenError struct {
	Reason Reason
	Err    error
}

func (e *InvalidTokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid token: %s", e.Reason)
	}
	return fmt.Sprintf("invalid token: %s: %v", e.Reason, e.Err)
}

func (e *InvalidTokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{auth.ErrInvalidToken}
	}
	return []error{auth.ErrInvalidToken, e.Err}
}

func ReasonOf(err error) (Reason, bool) {
	var ite *InvalidTokenError
	if errors.As(err, &ite) {
		return ite.Reason, true
	}
	return "", false
}

var errWrongAlgorithm = errors.New("unexpected signing method")

func classify(err error) *InvalidTokenError {
	reason := ReasonMalformed
	switch {
	case errors.Is(err, errWrongAlgorithm):
		reason = ReasonWrongAlgorithm
	case errors.Is(err, jwt.ErrTokenMalformed):
		reason = ReasonMalformed
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		reason = ReasonWrongAlgorithm
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		reason = ReasonBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		reason = ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		reason = ReasonInvalidClaims
	}
	return &InvalidTokenError{Reason: reason, Err: err}
}
