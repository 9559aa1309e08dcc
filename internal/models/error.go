package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// Login guard errors
	ErrValidation       = errors.New("validation failed")
	ErrStoreUnavailable = errors.New("persistence layer unavailable")

	// Job queue errors
	ErrJobPermanentFailure = errors.New("job exhausted its attempts")
	ErrJobNotClaimable     = errors.New("job is not pending")
	ErrUnknownJobType      = errors.New("no handler registered for job type")
	ErrJobNotFailed        = errors.New("only failed jobs can be requeued")
)
