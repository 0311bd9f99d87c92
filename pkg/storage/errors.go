package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInsufficientBalance is returned when a debit exceeds the user's balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrDuplicateReward is returned when a ledger entry for the same user,
// entry type and reference already exists.
var ErrDuplicateReward = errors.New("reward already issued for this reference")

// ErrDuplicateKey is returned when a unique column other than the ledger
// reward index collides.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrValidation is the sentinel every ValidationError unwraps to.
var ErrValidation = errors.New("validation failed")

// ValidationError is returned for malformed input before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
