package settlement

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput is returned when the operator-entered values cannot be settled.
	ErrInvalidInput = errors.New("settlement: invalid input")
	// ErrInvalidSettings is returned when the mill price list cannot produce a finite result.
	ErrInvalidSettings = errors.New("settlement: invalid settings")
)

// FieldError names the field that failed validation.
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %s %s", e.Err, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func invalidInput(field, reason string) error {
	return &FieldError{Field: field, Reason: reason, Err: ErrInvalidInput}
}

func invalidSettings(field, reason string) error {
	return &FieldError{Field: field, Reason: reason, Err: ErrInvalidSettings}
}
