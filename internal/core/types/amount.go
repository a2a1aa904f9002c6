package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/shopspring/decimal"
)

// IssuedAmount is a token value: currency code, issuing account, decimal value.
type IssuedAmount struct {
	Currency string          `json:"currency"`
	Issuer   string          `json:"issuer"`
	Value    decimal.Decimal `json:"value"`
}

// Amount is either a native amount in drops or an issued token amount.
type Amount struct {
	Drops  XRPAmount.XRPAmount
	Issued *IssuedAmount
}

func NativeAmount(drops XRPAmount.XRPAmount) Amount {
	return Amount{Drops: drops}
}

func TokenAmount(currency, issuer string, value decimal.Decimal) Amount {
	return Amount{Issued: &IssuedAmount{Currency: currency, Issuer: issuer, Value: value}}
}

func (a Amount) IsNative() bool {
	return a.Issued == nil
}

// Currency returns "XRP" for native amounts.
func (a Amount) Currency() string {
	if a.Issued == nil {
		return NativeCurrency
	}
	return a.Issued.Currency
}

func (a Amount) Issuer() string {
	if a.Issued == nil {
		return ""
	}
	return a.Issued.Issuer
}

func (a Amount) IsPositive() bool {
	if a.Issued == nil {
		return a.Drops.IsPositive()
	}
	return a.Issued.Value.IsPositive()
}

func (a Amount) String() string {
	if a.Issued == nil {
		return a.Drops.String() + " drops"
	}
	return fmt.Sprintf("%s %s/%s", a.Issued.Value.String(), a.Issued.Currency, a.Issued.Issuer)
}

type issuedWire struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
	Value    string `json:"value"`
}

// MarshalJSON emits the ledger wire form: a drops string or a
// {currency, issuer, value} object.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Issued == nil {
		return json.Marshal(a.Drops.String())
	}
	return json.Marshal(issuedWire{
		Currency: a.Issued.Currency,
		Issuer:   a.Issued.Issuer,
		Value:    a.Issued.Value.String(),
	})
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAmount(data)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAmount decodes a wire amount.
func ParseAmount(raw json.RawMessage) (Amount, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Amount{}, fmt.Errorf("%w: missing", ErrInvalidAmount)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		drops, err := XRPAmount.ParseDrops(s)
		if err != nil {
			return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return NativeAmount(drops), nil
	}

	var w issuedWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	value, err := decimal.NewFromString(w.Value)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: value %q: %v", ErrInvalidAmount, w.Value, err)
	}
	if w.Currency == "" {
		return Amount{}, fmt.Errorf("%w: missing currency", ErrInvalidAmount)
	}
	return TokenAmount(w.Currency, w.Issuer, value), nil
}

// Flatten returns the amount in the generic map form used by signing backends.
func (a Amount) Flatten() interface{} {
	if a.Issued == nil {
		return a.Drops.String()
	}
	return map[string]interface{}{
		"currency": a.Issued.Currency,
		"issuer":   a.Issued.Issuer,
		"value":    a.Issued.Value.String(),
	}
}
