package model

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every FieldError.
var ErrInvalid = errors.New("invalid entity")

// FieldError describes a single field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalid) match.
func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

func invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}
