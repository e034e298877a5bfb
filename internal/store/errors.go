package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/site-tracker/internal/model"
)

// ErrorKind classifies a storage failure independently of the backend.
type ErrorKind string

// Error kinds. Callers branch on these rather than on backend error codes.
const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindConnectivity ErrorKind = "connectivity"
	KindAuth         ErrorKind = "auth"
	KindCapacity     ErrorKind = "capacity"
	KindUnsupported  ErrorKind = "unsupported"
	KindUnknown      ErrorKind = "unknown"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrConnectivity = errors.New("backend unreachable")
	ErrAuth         = errors.New("not authorized")
	ErrCapacity     = errors.New("backend throttled")
	ErrUnsupported  = errors.New("unsupported operation")
)

var sentinels = map[ErrorKind]error{
	KindValidation:   ErrValidation,
	KindNotFound:     ErrNotFound,
	KindConflict:     ErrConflict,
	KindConnectivity: ErrConnectivity,
	KindAuth:         ErrAuth,
	KindCapacity:     ErrCapacity,
	KindUnsupported:  ErrUnsupported,
}

// Error is a classified storage failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Backend string
	Err     error
}

// E builds a classified error. err may be nil.
func E(kind ErrorKind, op, backend string, err error) *Error {
	return &Error{Kind: kind, Op: op, Backend: backend, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind ErrorKind, op, backend, format string, args ...any) *Error {
	return E(kind, op, backend, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Backend != "" {
		msg = e.Backend + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the classification of err. Model validation errors count as
// KindValidation, context cancellation as KindConnectivity.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, model.ErrInvalid):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindConnectivity
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// IsRetryable reports whether retrying the same call may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnectivity, KindCapacity:
		return !errors.Is(err, context.Canceled)
	}
	return false
}

// Invalid wraps a model validation failure.
func Invalid(op, backend string, err error) *Error {
	return E(KindValidation, op, backend, err)
}
