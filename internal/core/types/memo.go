package types

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// Memo is a decoded memo triple. Each field holds UTF-8 text when the wire
// hex decoded cleanly, otherwise the raw wire value.
type Memo struct {
	Data   string `json:"data,omitempty"`
	Type   string `json:"type,omitempty"`
	Format string `json:"format,omitempty"`
}

// DecodeMemoField turns a hex encoded memo field into text. It never fails:
// undecodable input is returned as-is.
func DecodeMemoField(raw string) string {
	if raw == "" {
		return ""
	}
	b, err := hex.DecodeString(raw)
	if err != nil || !utf8.Valid(b) {
		return raw
	}
	return string(b)
}

// EncodeMemoField is the inverse of DecodeMemoField for outbound memos.
func EncodeMemoField(text string) string {
	if text == "" {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString([]byte(text)))
}
