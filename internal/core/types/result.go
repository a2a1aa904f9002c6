package types

import "strings"

// Ledger engine result codes the engine reasons about. Everything else is
// carried verbatim as a string.
const (
	TesSUCCESS          = "tesSUCCESS"
	TecUNFUNDED_PAYMENT = "tecUNFUNDED_PAYMENT"
	TecNO_DST           = "tecNO_DST"
	TecNO_DST_INSUF_XRP = "tecNO_DST_INSUF_XRP"
	TecPATH_DRY         = "tecPATH_DRY"
	TecNO_LINE          = "tecNO_LINE"
	TecDST_TAG_NEEDED   = "tecDST_TAG_NEEDED"
	TefALREADY          = "tefALREADY"
	TefPAST_SEQ         = "tefPAST_SEQ"
	TefMAX_LEDGER       = "tefMAX_LEDGER"
	TelINSUF_FEE_P      = "telINSUF_FEE_P"
	TemBAD_AMOUNT       = "temBAD_AMOUNT"
	TemREDUNDANT        = "temREDUNDANT"
	TerQUEUED           = "terQUEUED"
	TerPRE_SEQ          = "terPRE_SEQ"
)

// ResultClass is the three letter prefix of a result code.
type ResultClass string

const (
	ClassSuccess   ResultClass = "tes" // applied
	ClassClaimed   ResultClass = "tec" // applied, fee claimed, operation failed
	ClassFailure   ResultClass = "tef" // not applied, cannot succeed in this form
	ClassLocal     ResultClass = "tel" // rejected by the local server
	ClassMalformed ResultClass = "tem" // malformed, never valid
	ClassRetry     ResultClass = "ter" // may succeed later
	ClassUnknown   ResultClass = ""
)

func ClassifyResult(code string) ResultClass {
	if len(code) < 3 {
		return ClassUnknown
	}
	switch c := ResultClass(strings.ToLower(code[:3])); c {
	case ClassSuccess, ClassClaimed, ClassFailure, ClassLocal, ClassMalformed, ClassRetry:
		return c
	default:
		return ClassUnknown
	}
}

func IsSuccessResult(code string) bool {
	return code == TesSUCCESS
}

// IsFinalRejection reports whether a preliminary submit result means the
// transaction can never make it into a validated ledger. tefALREADY is the
// answer to a resubmission of a transaction the server already holds, so it is
// not a rejection.
func IsFinalRejection(code string) bool {
	if code == TefALREADY {
		return false
	}
	switch ClassifyResult(code) {
	case ClassFailure, ClassLocal, ClassMalformed:
		return true
	default:
		return false
	}
}
