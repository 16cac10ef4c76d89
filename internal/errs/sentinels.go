// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a state change that is not defined from the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInsufficientStock indicates that an available counter would drop below zero.
	// It is retryable: the caller may re-check eligibility and resubmit.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrVersionConflict indicates optimistic concurrency failure (base version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates a missing or invalid identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the identity is not allowed to perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation indicates malformed input (empty ids, negative quantities).
	ErrValidation = errors.New("validation")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrPolicy matches every *PolicyError via errors.Is.
	ErrPolicy = errors.New("policy")
)

// IsRetryable reports whether err is a benign concurrent conflict that may succeed on resubmit.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrVersionConflict)
}
