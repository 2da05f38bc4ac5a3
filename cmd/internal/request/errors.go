package request

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("request not found")

	// ErrInvalidState is returned when a decision targets a request that is
	// no longer pending. Decisions are one-shot.
	ErrInvalidState = errors.New("request not pending")

	// ErrInvalidPoints guards the credit path: an approval may only ever add
	// a positive number of points.
	ErrInvalidPoints = errors.New("invalid points")
)

// ValidationError reports a rejected submission field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInvalidState reports whether err is a decision on a non-pending request.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
