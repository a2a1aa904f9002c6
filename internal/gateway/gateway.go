// Package gateway is the adapter between the engine and the external ledger
// network: account subscriptions, transaction submission and point queries.
package gateway

import (
	"context"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/shopspring/decimal"
)

// Gateway is the contract the monitor and the payment engine consume.
// Implementations must be safe for concurrent use. Transport failures are
// reported wrapped in ErrNetwork.
type Gateway interface {
	// Subscribe asks the network to stream transactions affecting address.
	Subscribe(ctx context.Context, address string) error
	// Unsubscribe stops the stream for address.
	Unsubscribe(ctx context.Context, address string) error

	// Submit sends a signed transaction blob.
	Submit(ctx context.Context, txBlob string) (SubmitResult, error)

	// AccountBalance reads the validated account root of address.
	AccountBalance(ctx context.Context, address string) (AccountBalance, error)
	// TrustLineBalance returns the balance address holds on its trust line
	// to issuer for currency. It returns types.ErrTrustLineNotFound when no
	// such line exists.
	TrustLineBalance(ctx context.Context, address, currency, issuer string) (decimal.Decimal, error)
	// FeeSchedule reads fees and reserves from the last validated ledger.
	FeeSchedule(ctx context.Context) (FeeSchedule, error)
	// TransactionByHash looks up a transaction. It returns ErrTxNotFound when
	// the network does not know the hash.
	TransactionByHash(ctx context.Context, hash string) (TxStatus, error)

	// Events is the ordered stream of transaction messages for subscribed
	// accounts. The channel is closed when the gateway shuts down.
	Events() <-chan StreamMessage
}

type SubmitResult struct {
	Hash         string
	EngineResult string
	Fee          XRPAmount.XRPAmount
}

type AccountBalance struct {
	Balance    XRPAmount.XRPAmount
	OwnerCount uint32
	Sequence   uint32
}

type FeeSchedule struct {
	Fees        XRPAmount.Fees
	LedgerIndex uint32
}

// TxStatus is what the network currently knows about a transaction.
type TxStatus struct {
	Hash            string
	Validated       bool
	Result          string
	LedgerIndex     uint32
	DeliveredAmount *types.Amount
}

// StreamMessage carries either a transaction message or a stream error.
type StreamMessage struct {
	Transaction *TransactionStream
	Err         error
}
