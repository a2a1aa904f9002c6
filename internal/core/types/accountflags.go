package types

// AccountSet SetFlag/ClearFlag values.
const (
	AsfRequireDest                  = 1
	AsfRequireAuth                  = 2
	AsfDisallowXRP                  = 3
	AsfDisableMaster                = 4
	AsfAccountTxnID                 = 5
	AsfNoFreeze                     = 6
	AsfGlobalFreeze                 = 7
	AsfDefaultRipple                = 8
	AsfDepositAuth                  = 9
	AsfAuthorizedNFTokenMinter      = 10
	AsfDisallowIncomingNFTokenOffer = 12
	AsfDisallowIncomingCheck        = 13
	AsfDisallowIncomingPayChan      = 14
	AsfDisallowIncomingTrustline    = 15
	AsfAllowTrustLineClawback       = 16
)

var accountFlagNames = map[uint32]string{
	AsfRequireDest:                  "asfRequireDest",
	AsfRequireAuth:                  "asfRequireAuth",
	AsfDisallowXRP:                  "asfDisallowXRP",
	AsfDisableMaster:                "asfDisableMaster",
	AsfAccountTxnID:                 "asfAccountTxnID",
	AsfNoFreeze:                     "asfNoFreeze",
	AsfGlobalFreeze:                 "asfGlobalFreeze",
	AsfDefaultRipple:                "asfDefaultRipple",
	AsfDepositAuth:                  "asfDepositAuth",
	AsfAuthorizedNFTokenMinter:      "asfAuthorizedNFTokenMinter",
	AsfDisallowIncomingNFTokenOffer: "asfDisallowIncomingNFTokenOffer",
	AsfDisallowIncomingCheck:        "asfDisallowIncomingCheck",
	AsfDisallowIncomingPayChan:      "asfDisallowIncomingPayChan",
	AsfDisallowIncomingTrustline:    "asfDisallowIncomingTrustline",
	AsfAllowTrustLineClawback:       "asfAllowTrustLineClawback",
}

// AccountFlagName returns the asf* name for a SetFlag/ClearFlag value, or ""
// when the value is unknown.
func AccountFlagName(flag uint32) string {
	return accountFlagNames[flag]
}
