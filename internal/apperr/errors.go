// Package apperr defines the stable error kinds surfaced by Raido services.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a record ID does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when identity fields collide with an existing record.
	ErrConflict = errors.New("conflict")
	// ErrValidation is returned for malformed input, before any store mutation.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable is returned on infrastructure failure; callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)
