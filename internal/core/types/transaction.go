package types

import (
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/shopspring/decimal"
)

// TrustLineChange is the sub-record of a TrustSet.
type TrustLineChange struct {
	Currency string          `json:"currency"`
	Issuer   string          `json:"issuer"`
	Limit    decimal.Decimal `json:"limit"`
	Flags    uint32          `json:"flags,omitempty"`
}

// AccountSetChange is the sub-record of an AccountSet.
type AccountSetChange struct {
	SetFlag       uint32 `json:"set_flag,omitempty"`
	SetFlagName   string `json:"set_flag_name,omitempty"`
	ClearFlag     uint32 `json:"clear_flag,omitempty"`
	ClearFlagName string `json:"clear_flag_name,omitempty"`
	Flags         uint32 `json:"flags,omitempty"`
}

// NormalizedTransaction is the classified, cache-ready view of a ledger
// transaction. Values of this type are treated as immutable once they are
// handed to the cache; updates produce a new value.
type NormalizedTransaction struct {
	Hash            string              `json:"hash"`
	Type            TxType              `json:"type"`
	TransactionType string              `json:"transaction_type"`
	Account         string              `json:"account"`
	Destination     string              `json:"destination,omitempty"`
	Amount          *Amount             `json:"amount,omitempty"`
	DeliveredAmount *Amount             `json:"delivered_amount,omitempty"`
	DestinationTag  *uint32             `json:"destination_tag,omitempty"`
	SourceTag       *uint32             `json:"source_tag,omitempty"`
	TrustLine       *TrustLineChange    `json:"trust_line,omitempty"`
	AccountSet      *AccountSetChange   `json:"account_set,omitempty"`
	Fee             XRPAmount.XRPAmount `json:"fee"`
	Sequence        uint32              `json:"sequence"`
	Memos           []Memo              `json:"memos,omitempty"`
	Result          string              `json:"result"`
	LedgerIndex     uint32              `json:"ledger_index"`
	Validated       bool                `json:"validated"`
	ValidatedAt     time.Time           `json:"validated_at"`
	CachedAt        time.Time           `json:"cached_at"`
}

// Involves reports whether address is the origin or the destination.
func (t *NormalizedTransaction) Involves(address string) bool {
	return address != "" && (t.Account == address || t.Destination == address)
}

// Currency is the currency a record is about: the payment value currency or
// the trust line currency. Records without a value report "".
func (t *NormalizedTransaction) Currency() string {
	switch {
	case t.Amount != nil:
		return t.Amount.Currency()
	case t.TrustLine != nil:
		return t.TrustLine.Currency
	default:
		return ""
	}
}

func (t *NormalizedTransaction) Succeeded() bool {
	return IsSuccessResult(t.Result)
}

// WithMetadata returns a copy of t carrying the delivery metadata of other
// (ledger index, validation state, result, timestamps). Semantic fields of t
// are kept.
func (t *NormalizedTransaction) WithMetadata(other *NormalizedTransaction) *NormalizedTransaction {
	merged := *t
	merged.LedgerIndex = other.LedgerIndex
	merged.Validated = other.Validated
	merged.Result = other.Result
	merged.CachedAt = other.CachedAt
	if !other.ValidatedAt.IsZero() {
		merged.ValidatedAt = other.ValidatedAt
	}
	if other.DeliveredAmount != nil {
		merged.DeliveredAmount = other.DeliveredAmount
	}
	return &merged
}
