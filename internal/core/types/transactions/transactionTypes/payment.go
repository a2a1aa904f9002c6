package transactionTypes

import (
	"encoding/json"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/core/types/transactions"
)

// PaymentTransaction is an outbound Payment.
type PaymentTransaction struct {
	transactions.TransactionCommonField
	Amount         types.Amount `json:"Amount"`
	Destination    string       `json:"Destination"`
	DestinationTag *uint32      `json:"DestinationTag,omitempty"`
}

// NewPaymentTransaction creates an unsigned Payment. Fee, Sequence and
// LastLedgerSequence are left for autofill.
func NewPaymentTransaction(account, destination string, amount types.Amount) *PaymentTransaction {
	return &PaymentTransaction{
		TransactionCommonField: transactions.TransactionCommonField{
			Account:         account,
			TransactionType: "Payment",
		},
		Amount:      amount,
		Destination: destination,
	}
}

func (p *PaymentTransaction) SetFee(fee XRPAmount.XRPAmount) {
	p.Fee = fee.String()
}

// Flatten returns the map form handed to signers.
func (p *PaymentTransaction) Flatten() map[string]interface{} {
	m := make(map[string]interface{})
	p.FlattenCommon(m)
	m["Amount"] = p.Amount.Flatten()
	m["Destination"] = p.Destination
	if p.DestinationTag != nil {
		m["DestinationTag"] = *p.DestinationTag
	}
	return m
}

func (p *PaymentTransaction) Serialize() ([]byte, error) {
	return json.Marshal(p)
}
