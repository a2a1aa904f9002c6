package XRPAmount

// Fees is the network fee and reserve schedule as reported by the last
// validated ledger.
type Fees struct {
	Base      XRPAmount
	Reserve   XRPAmount
	Increment XRPAmount
}

func NewFees(base, reserve, increment XRPAmount) Fees {
	return Fees{Base: base, Reserve: reserve, Increment: increment}
}

// AccountReserve is the minimum balance an account owning ownerCount ledger
// objects has to keep.
func (f Fees) AccountReserve(ownerCount uint32) XRPAmount {
	return f.Reserve + f.Increment.Mul(int64(ownerCount))
}

// Spendable returns balance minus the account reserve, floored at zero.
func (f Fees) Spendable(balance XRPAmount, ownerCount uint32) XRPAmount {
	avail := balance.Sub(f.AccountReserve(ownerCount))
	if avail < 0 {
		return 0
	}
	return avail
}
