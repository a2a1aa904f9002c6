package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks transient transport failures. Callers may retry.
	ErrNetwork = errors.New("ledger network error")

	ErrAccountNotFound = errors.New("account not found")
	ErrTxNotFound      = errors.New("transaction not found")
	ErrClosed          = errors.New("gateway closed")
)

// RPCError is an error response returned by the ledger server.
type RPCError struct {
	Code        int    `json:"error_code"`
	ErrorString string `json:"error"`
	Message     string `json:"error_message,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.ErrorString, e.Message)
	}
	return e.ErrorString
}

// Is maps well-known server error tokens onto the package sentinels.
func (e *RPCError) Is(target error) bool {
	switch target {
	case ErrAccountNotFound:
		return e.ErrorString == "actNotFound"
	case ErrTxNotFound:
		return e.ErrorString == "txnNotFound"
	}
	return false
}

func networkError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
}

// IsNetwork reports whether err is a transient transport failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
