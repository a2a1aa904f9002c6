package types

import (
	"regexp"
	"strings"
)

// NativeCurrency is the code reported for native-asset values.
const NativeCurrency = "XRP"

var (
	standardCurrency    = regexp.MustCompile(`^[A-Za-z0-9?!@#$%^&*<>(){}\[\]|]{3}$`)
	nonStandardCurrency = regexp.MustCompile(`^[0-9A-Fa-f]{40}$`)
)

// ValidateCurrency accepts a three character ISO-style code or a 160-bit hex
// code. "XRP" is reserved for the native asset and is rejected as a token.
func ValidateCurrency(field, code string) error {
	switch {
	case code == "":
		return NewValidationError(ErrInvalidCurrency, field, "currency is required")
	case strings.EqualFold(code, NativeCurrency):
		return NewValidationError(ErrInvalidCurrency, field, "XRP cannot be issued")
	case standardCurrency.MatchString(code):
		return nil
	case nonStandardCurrency.MatchString(code):
		if strings.HasPrefix(code, "00") {
			return NewValidationError(ErrInvalidCurrency, field, "hex currency must not start with 0x00")
		}
		return nil
	default:
		return NewValidationError(ErrInvalidCurrency, field, "%q is not a valid currency code", code)
	}
}

// SameCurrency compares currency codes, ignoring hex case.
func SameCurrency(a, b string) bool {
	if len(a) == 40 && len(b) == 40 {
		return strings.EqualFold(a, b)
	}
	return a == b
}
