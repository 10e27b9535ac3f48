package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("permission denied")
	ErrConflict        = errors.New("conflict")
	// ErrUnavailable marks infrastructure failures the caller may retry.
	ErrUnavailable = errors.New("service unavailable")
)
