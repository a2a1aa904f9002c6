package payment

import (
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// IDPrefix is the TypeID prefix of payment ids, e.g. "pay_01h2xcejqtf2nbrexx3vqjhp41".
const IDPrefix = "pay"

// NewID generates a K-sortable payment id.
func NewID() string {
	tid, err := typeid.Generate(IDPrefix)
	if err != nil {
		panic(fmt.Sprintf("payment: invalid id prefix %q: %v", IDPrefix, err))
	}
	return tid.String()
}

// ValidID reports whether s is a well-formed payment id.
func ValidID(s string) bool {
	if !strings.HasPrefix(s, IDPrefix+"_") {
		return false
	}
	_, err := typeid.Parse(s)
	return err == nil
}
