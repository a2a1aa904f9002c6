package payment

import (
	"fmt"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
)

// FeeMultipliers scale the network base fee per transaction type.
type FeeMultipliers struct {
	Payment    float64 `mapstructure:"payment"`
	TrustSet   float64 `mapstructure:"trust_set"`
	AccountSet float64 `mapstructure:"account_set"`
}

func DefaultFeeMultipliers() FeeMultipliers {
	return FeeMultipliers{Payment: 1.2, TrustSet: 1.5, AccountSet: 1.3}
}

func (f FeeMultipliers) Validate() error {
	for name, v := range map[string]float64{"payment": f.Payment, "trust_set": f.TrustSet, "account_set": f.AccountSet} {
		if v < 1 {
			return fmt.Errorf("fee multiplier %s must be >= 1, got %v", name, v)
		}
	}
	return nil
}

// For returns the multiplier for txType. Unknown types pay the base fee.
func (f FeeMultipliers) For(txType types.TxType) float64 {
	switch txType {
	case types.TxPayment:
		return f.Payment
	case types.TxTrustSet:
		return f.TrustSet
	case types.TxAccountSet:
		return f.AccountSet
	default:
		return 1
	}
}

// EstimateFee scales base by the type multiplier, rounded up to whole drops.
func (f FeeMultipliers) EstimateFee(base XRPAmount.XRPAmount, txType types.TxType) XRPAmount.XRPAmount {
	return base.Scale(f.For(txType))
}
