package domain

import "errors"

// Business errors are definitive outcomes: callers decide whether to retry.
var (
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrStaleVersion             = errors.New("stale stock version")
	ErrUnknownStock             = errors.New("stock not found")
	ErrUnknownBuyer             = errors.New("buyer not found")
	ErrInvalidVerificationToken = errors.New("verification token mismatch")
	ErrAdmissionDenied          = errors.New("request rate exceeded")
)

// Infrastructure errors wrap the underlying cause with %v so the sentinel
// stays matchable through errors.Is.
var (
	ErrStoreUnavailable  = errors.New("stock store unavailable")
	ErrCacheUnavailable  = errors.New("cache unavailable")
	ErrBrokerUnavailable = errors.New("message broker unavailable")
)
