package transactions

import (
	"encoding/json"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
)

// TransactionCommonField holds the fields every ledger transaction carries,
// in their JSON wire form.
type TransactionCommonField struct {
	Account            string      `json:"Account"`
	TransactionType    string      `json:"TransactionType"`
	Fee                string      `json:"Fee"`
	Sequence           uint32      `json:"Sequence"`
	Flags              uint32      `json:"Flags,omitempty"`
	LastLedgerSequence uint32      `json:"LastLedgerSequence,omitempty"`
	Memos              []MemoEntry `json:"Memos,omitempty"`
	SourceTag          *uint32     `json:"SourceTag,omitempty"`
	SigningPubKey      string      `json:"SigningPubKey,omitempty"`
	TxnSignature       string      `json:"TxnSignature,omitempty"`
	Hash               string      `json:"hash,omitempty"`
}

// MemoEntry is the {"Memo": {...}} wrapper used on the wire.
type MemoEntry struct {
	Memo Memo `json:"Memo"`
}

// Memo fields are hex encoded on the wire.
type Memo struct {
	MemoType   string `json:"MemoType,omitempty"`
	MemoData   string `json:"MemoData,omitempty"`
	MemoFormat string `json:"MemoFormat,omitempty"`
}

// FeeDrops parses the Fee field. A missing or malformed fee reads as zero.
func (t *TransactionCommonField) FeeDrops() XRPAmount.XRPAmount {
	fee, err := XRPAmount.ParseDrops(t.Fee)
	if err != nil {
		return 0
	}
	return fee
}

// DecodedMemos returns the memos with hex fields decoded to text where
// possible.
func (t *TransactionCommonField) DecodedMemos() []types.Memo {
	if len(t.Memos) == 0 {
		return nil
	}
	out := make([]types.Memo, 0, len(t.Memos))
	for _, m := range t.Memos {
		out = append(out, types.Memo{
			Data:   types.DecodeMemoField(m.Memo.MemoData),
			Type:   types.DecodeMemoField(m.Memo.MemoType),
			Format: types.DecodeMemoField(m.Memo.MemoFormat),
		})
	}
	return out
}

// AddMemo appends a text memo, hex encoding each field.
func (t *TransactionCommonField) AddMemo(memo types.Memo) {
	t.Memos = append(t.Memos, MemoEntry{Memo: Memo{
		MemoType:   types.EncodeMemoField(memo.Type),
		MemoData:   types.EncodeMemoField(memo.Data),
		MemoFormat: types.EncodeMemoField(memo.Format),
	}})
}

// FlattenCommon writes the populated common fields into the generic map form
// expected by signing backends.
func (t *TransactionCommonField) FlattenCommon(m map[string]interface{}) {
	m["Account"] = t.Account
	m["TransactionType"] = t.TransactionType
	if t.Fee != "" {
		m["Fee"] = t.Fee
	}
	if t.Sequence != 0 {
		m["Sequence"] = t.Sequence
	}
	if t.Flags != 0 {
		m["Flags"] = t.Flags
	}
	if t.LastLedgerSequence != 0 {
		m["LastLedgerSequence"] = t.LastLedgerSequence
	}
	if t.SourceTag != nil {
		m["SourceTag"] = *t.SourceTag
	}
	if t.SigningPubKey != "" {
		m["SigningPubKey"] = t.SigningPubKey
	}
	if len(t.Memos) > 0 {
		memos := make([]interface{}, 0, len(t.Memos))
		for _, e := range t.Memos {
			inner := map[string]interface{}{}
			if e.Memo.MemoType != "" {
				inner["MemoType"] = e.Memo.MemoType
			}
			if e.Memo.MemoData != "" {
				inner["MemoData"] = e.Memo.MemoData
			}
			if e.Memo.MemoFormat != "" {
				inner["MemoFormat"] = e.Memo.MemoFormat
			}
			memos = append(memos, map[string]interface{}{"Memo": inner})
		}
		m["Memos"] = memos
	}
}

// Transaction is the union of the fields the monitor reads from a streamed
// transaction. Type-specific fields are left raw so that a malformed amount on
// one record does not fail the whole message.
type Transaction struct {
	TransactionCommonField
	Destination    string          `json:"Destination,omitempty"`
	Amount         json.RawMessage `json:"Amount,omitempty"`
	DeliverMax     json.RawMessage `json:"DeliverMax,omitempty"`
	DestinationTag *uint32         `json:"DestinationTag,omitempty"`
	LimitAmount    json.RawMessage `json:"LimitAmount,omitempty"`
	SetFlag        *uint32         `json:"SetFlag,omitempty"`
	ClearFlag      *uint32         `json:"ClearFlag,omitempty"`
}

// PaymentAmount returns Amount, falling back to DeliverMax for API versions
// that only carry the latter.
func (t *Transaction) PaymentAmount() json.RawMessage {
	if len(t.Amount) > 0 {
		return t.Amount
	}
	return t.DeliverMax
}

func (t *Transaction) Deserialize(data []byte) error {
	return json.Unmarshal(data, t)
}
