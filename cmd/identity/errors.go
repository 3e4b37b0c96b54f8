package identity

import (
	"errors"
	"fmt"
)

// Kinds callers match with errors.Is. The session layer maps them to its own
// sentinels; they never reach HTTP responses directly.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUserNotFound = errors.New("user not found")
	ErrConflict     = errors.New("already registered")
)

// OpError attaches the failing store operation to one of the kinds above.
// Detail names a field or lookup key, never a value.
type OpError struct {
	Op     string
	Kind   error
	Detail string
}

func (e *OpError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Op, e.Kind, e.Detail)
}

func (e *OpError) Unwrap() error { return e.Kind }

func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrUserNotFound) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func invalid(op, field string) error {
	return &OpError{Op: op, Kind: ErrInvalidInput, Detail: field + " is required"}
}

// notFound records which key the lookup used ("id" or "email").
func notFound(op, by string) error {
	return &OpError{Op: op, Kind: ErrUserNotFound, Detail: "by " + by}
}

func conflict(op, field string) error {
	return &OpError{Op: op, Kind: ErrConflict, Detail: field}
}
