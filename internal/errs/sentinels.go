// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (stored state changed underneath).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)

// Key-management sentinels.
var (
	// ErrInvalidArgument is a precondition violation detected before any I/O.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedLockType indicates a PIN lock type that has no storage slot.
	ErrUnsupportedLockType = errors.New("unsupported pin lock type")

	// ErrWrongPin indicates the PIN did not open the envelope.
	ErrWrongPin = errors.New("wrong pin")

	// ErrPinUnavailable indicates no envelope is available to unlock with a PIN.
	ErrPinUnavailable = errors.New("pin unlock unavailable")

	// ErrLocked indicates the operation needs the user key, but the user is locked.
	ErrLocked = errors.New("user is locked")

	// ErrWrongPassword indicates the master password did not verify locally.
	ErrWrongPassword = errors.New("wrong master password")
)
