package password

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrPolicy = errors.New("password does not meet policy")

// PolicyError says which bound was violated. It matches ErrPolicy.
type PolicyError struct {
	Min, Max int
	Length   int
}

func (e *PolicyError) Error() string {
	if e.Length < e.Min {
		return fmt.Sprintf("password must be at least %d characters", e.Min)
	}
	return fmt.Sprintf("password must be at most %d characters", e.Max)
}

func (e *PolicyError) Is(target error) bool { return target == ErrPolicy }

// Policy is length only: no composition rules.
type Policy struct {
	MinLength int `mapstructure:"min_length"`
	MaxLength int `mapstructure:"max_length"`
}

func DefaultPolicy() Policy { return Policy{MinLength: 12, MaxLength: 128} }

func (p Policy) Validate(plain string) error {
	if p.MinLength <= 0 {
		p.MinLength = 12
	}
	if p.MaxLength <= 0 {
		p.MaxLength = 128
	}
	n := utf8.RuneCountInString(plain)
	if n < p.MinLength || n > p.MaxLength {
		return &PolicyError{Min: p.MinLength, Max: p.MaxLength, Length: n}
	}
	return nil
}
