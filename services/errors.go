package services

import "errors"

// Domain errors. Store-level failures are wrapped and propagated as-is;
// these sentinels are matched by controllers with errors.Is to pick the
// right HTTP status.
var (
	ErrNotFound          = errors.New("record not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPaymentTimeout    = errors.New("payment confirmation timed out")
)
