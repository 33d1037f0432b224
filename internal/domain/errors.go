package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate content")
	ErrInvalidStatus   = errors.New("invalid status transition")
	ErrAddressMismatch = errors.New("market address mismatch")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrTokenExpired    = errors.New("token expired")
	ErrUnsafeContent   = errors.New("unsafe content")
	ErrValidation      = errors.New("invalid request")
	ErrLockHeld        = errors.New("lock already held")
	ErrContextDone     = errors.New("context cancelled")
)
