package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStaleOpportunity  = errors.New("opportunity stale")
	ErrVenueUnavailable  = errors.New("venue unavailable")
	ErrRateLimited       = errors.New("rate limited")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrInvalidTransition = errors.New("invalid trade status transition")
	ErrLockHeld          = errors.New("lock already held")
	ErrSigningFailed     = errors.New("signing failed")
)
