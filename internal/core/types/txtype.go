package types

// TxType is the normalized transaction category.
type TxType string

const (
	TxPayment    TxType = "Payment"
	TxTrustSet   TxType = "TrustSet"
	TxAccountSet TxType = "AccountSet"
	TxOther      TxType = "Other"
)

// TxTypeOf maps a ledger TransactionType field to a TxType.
func TxTypeOf(transactionType string) TxType {
	switch transactionType {
	case "Payment":
		return TxPayment
	case "TrustSet":
		return TxTrustSet
	case "AccountSet":
		return TxAccountSet
	default:
		return TxOther
	}
}

func (t TxType) Valid() bool {
	switch t {
	case TxPayment, TxTrustSet, TxAccountSet, TxOther:
		return true
	}
	return false
}

func (t TxType) String() string {
	return string(t)
}
