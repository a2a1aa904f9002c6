package types

import (
	addresscodec "github.com/Peersyst/xrpl-go/address-codec"
)

// ValidateAddress checks that address is a well-formed classic address
// (base58 "r..." with a valid checksum).
func ValidateAddress(field, address string) error {
	if address == "" {
		return NewValidationError(ErrInvalidAddress, field, "address is required")
	}
	if !addresscodec.IsValidClassicAddress(address) {
		return NewValidationError(ErrInvalidAddress, field, "%q is not a valid classic address", address)
	}
	return nil
}

// IsValidAddress is the boolean form of ValidateAddress.
func IsValidAddress(address string) bool {
	return address != "" && addresscodec.IsValidClassicAddress(address)
}
