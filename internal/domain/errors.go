package domain

import "errors"

// Storage adapters return these so services never depend on a driver's error types.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
