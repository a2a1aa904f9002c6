package payment

import (
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/signer"
)

// State is the lifecycle position of a payment.
type State string

const (
	StateCreated   State = "created"
	StateValidated State = "validated"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

func (s State) rank() int {
	switch s {
	case StateCreated:
		return 1
	case StateValidated:
		return 2
	case StateSubmitted:
		return 3
	case StateConfirmed, StateFailed, StateTimedOut:
		return 4
	default:
		return 0
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s.rank() == 4
}

// canAdvance reports whether from -> to is a forward move of the state
// machine. TimedOut is only reachable from Submitted.
func canAdvance(from, to State) bool {
	if from.Terminal() || to.rank() <= from.rank() {
		return false
	}
	if to == StateTimedOut {
		return from == StateSubmitted
	}
	if to == StateConfirmed {
		return from == StateSubmitted
	}
	return to == StateFailed || to.rank() == from.rank()+1
}

// Kind distinguishes native and issued-token payments.
type Kind string

const (
	KindNative Kind = "native"
	KindToken  Kind = "token"
)

// Request is a caller's payment order.
type Request struct {
	// IdempotencyKey, when set, maps every retry of the same order to a
	// single payment.
	IdempotencyKey string
	WalletType     signer.WalletType
	Source         string
	Destination    string
	Amount         types.Amount
	DestinationTag *uint32
	SourceTag      *uint32
	Memos          []types.Memo
}

// Payment is a snapshot of a submission attempt. Values handed out by the
// engine are copies.
type Payment struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Kind           Kind              `json:"kind"`
	WalletType     signer.WalletType `json:"wallet_type"`
	Source         string            `json:"source"`
	Destination    string            `json:"destination"`
	Amount         types.Amount      `json:"amount"`
	DestinationTag *uint32           `json:"destination_tag,omitempty"`
	SourceTag      *uint32           `json:"source_tag,omitempty"`
	Memos          []types.Memo      `json:"memos,omitempty"`

	Fee                XRPAmount.XRPAmount `json:"fee"`
	State              State               `json:"state"`
	Hash               string              `json:"hash,omitempty"`
	LastLedgerSequence uint32              `json:"last_ledger_sequence,omitempty"`
	// Result is the ledger result code: preliminary while Submitted,
	// validated once Confirmed or Failed.
	Result          string        `json:"result,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	LedgerIndex     uint32        `json:"ledger_index,omitempty"`
	DeliveredAmount *types.Amount `json:"delivered_amount,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
}

func (p Payment) clone() Payment {
	c := p
	if p.Memos != nil {
		c.Memos = append([]types.Memo(nil), p.Memos...)
	}
	if p.DestinationTag != nil {
		v := *p.DestinationTag
		c.DestinationTag = &v
	}
	if p.SourceTag != nil {
		v := *p.SourceTag
		c.SourceTag = &v
	}
	if p.DeliveredAmount != nil {
		v := *p.DeliveredAmount
		c.DeliveredAmount = &v
	}
	return c
}
