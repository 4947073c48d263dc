package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced series, instance or task is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by storage when (series_id, start) already exists.
	ErrDuplicate = errors.New("duplicate instance")
	// ErrValidation is the sentinel every ValidationError unwraps to.
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes a malformed rule or template field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
