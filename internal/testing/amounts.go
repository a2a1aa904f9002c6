package testing

import (
	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/shopspring/decimal"
)

// XRP converts whole XRP to drops.
// For example, XRP(100) returns 100,000,000 drops.
func XRP(n int64) XRPAmount.XRPAmount {
	return XRPAmount.DropsPerXRP.Mul(n)
}

// Drops returns the drop amount unchanged.
func Drops(n int64) XRPAmount.XRPAmount {
	return XRPAmount.NewXRPAmount(n)
}

// Native wraps drops in a types.Amount.
func Native(drops XRPAmount.XRPAmount) types.Amount {
	return types.NativeAmount(drops)
}

// Token builds an issued amount. value must be a valid decimal string.
func Token(currency, issuer, value string) types.Amount {
	return types.TokenAmount(currency, issuer, decimal.RequireFromString(value))
}
