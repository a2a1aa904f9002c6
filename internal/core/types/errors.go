package types

import (
	"errors"
	"fmt"
)

// Validation sentinels. A ValidationError always unwraps to one of these.
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCurrency     = errors.New("invalid currency code")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTrustLineNotFound   = errors.New("trust line not found")
)

// ValidationError is a local, synchronous rejection of a request. It is never
// retried automatically.
type ValidationError struct {
	Err     error
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("validation failed for %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("validation failed for %s: %v: %s", e.Field, e.Err, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Kind returns the short name of the violated rule, e.g. "InsufficientBalance".
func (e *ValidationError) Kind() string {
	switch {
	case errors.Is(e.Err, ErrInvalidAddress):
		return "InvalidAddress"
	case errors.Is(e.Err, ErrInvalidAmount), errors.Is(e.Err, ErrInvalidCurrency):
		return "InvalidAmount"
	case errors.Is(e.Err, ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(e.Err, ErrTrustLineNotFound):
		return "TrustLineNotFound"
	default:
		return "Validation"
	}
}

func NewValidationError(err error, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Err: err, Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
