package payment

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrEngineClosed    = errors.New("payment engine closed")
	// ErrAwaitTimeout is returned by Await when the wait expires on a
	// payment that was never submitted.
	ErrAwaitTimeout = errors.New("timed out waiting for payment")
)

// FailureKind classifies a terminal failure.
type FailureKind string

const (
	FailureSigner    FailureKind = "signer"
	FailureRejection FailureKind = "ledger_rejection"
	FailureTimeout   FailureKind = "timeout"
	// FailureAbandoned marks a payment that was never submitted before its
	// idempotency key expired.
	FailureAbandoned FailureKind = "abandoned"
)

// Failure is the error attached to a Failed or TimedOut payment.
type Failure struct {
	Kind FailureKind
	// Code is the ledger result code for rejections.
	Code string
	Err  error
}

func (f *Failure) Error() string {
	switch {
	case f.Code != "":
		return fmt.Sprintf("payment %s: %s", f.Kind, f.Code)
	case f.Err != nil:
		return fmt.Sprintf("payment %s: %v", f.Kind, f.Err)
	default:
		return fmt.Sprintf("payment %s", f.Kind)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Reason is the text stored on the payment record.
func (f *Failure) Reason() string {
	if f.Code != "" {
		return f.Code
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return string(f.Kind)
}

// IsRejection reports whether err is a ledger rejection and returns its code.
func IsRejection(err error) (string, bool) {
	var f *Failure
	if errors.As(err, &f) && f.Kind == FailureRejection {
		return f.Code, true
	}
	return "", false
}
