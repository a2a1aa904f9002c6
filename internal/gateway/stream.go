package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/core/types/transactions"
)

// TransactionStream is a "transaction" stream message as sent by a rippled
// compatible server. Transaction is left raw and decoded on demand.
type TransactionStream struct {
	Type                string          `json:"type"`
	EngineResult        string          `json:"engine_result"`
	EngineResultCode    int             `json:"engine_result_code"`
	EngineResultMessage string          `json:"engine_result_message,omitempty"`
	LedgerHash          string          `json:"ledger_hash,omitempty"`
	LedgerIndex         uint32          `json:"ledger_index,omitempty"`
	Meta                *Meta           `json:"meta,omitempty"`
	Transaction         json.RawMessage `json:"transaction,omitempty"`
	TxJSON              json.RawMessage `json:"tx_json,omitempty"`
	Hash                string          `json:"hash,omitempty"`
	Validated           bool            `json:"validated"`
}

// Meta is the subset of transaction metadata the engine reads.
type Meta struct {
	TransactionResult string          `json:"TransactionResult"`
	TransactionIndex  uint32          `json:"TransactionIndex"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount,omitempty"`
}

// closeTimeField picks the ledger close time some servers attach to the
// transaction object.
type closeTimeField struct {
	Date uint32 `json:"date"`
}

// Body returns the transaction object, whichever field the server used.
func (s *TransactionStream) Body() json.RawMessage {
	if len(s.Transaction) > 0 {
		return s.Transaction
	}
	return s.TxJSON
}

// Decode parses the transaction object.
func (s *TransactionStream) Decode() (*transactions.Transaction, error) {
	body := s.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("stream message %s has no transaction body", s.Hash)
	}
	var tx transactions.Transaction
	if err := tx.Deserialize(body); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", s.Hash, err)
	}
	if tx.Hash == "" {
		tx.Hash = s.Hash
	}
	return &tx, nil
}

// TxHash returns the transaction hash from the envelope or the body.
func (s *TransactionStream) TxHash() string {
	if s.Hash != "" {
		return s.Hash
	}
	var h struct {
		Hash string `json:"hash"`
	}
	_ = json.Unmarshal(s.Body(), &h)
	return h.Hash
}

// Result prefers the metadata result over the envelope engine result.
func (s *TransactionStream) Result() string {
	if s.Meta != nil && s.Meta.TransactionResult != "" {
		return s.Meta.TransactionResult
	}
	return s.EngineResult
}

// CloseTime returns the ledger close time in ledger-epoch seconds, if known.
func (s *TransactionStream) CloseTime() (uint32, bool) {
	var f closeTimeField
	if err := json.Unmarshal(s.Body(), &f); err != nil || f.Date == 0 {
		return 0, false
	}
	return f.Date, true
}

// DeliveredAmount parses meta.delivered_amount. Absent or "unavailable"
// values yield nil.
func (s *TransactionStream) DeliveredAmount() *types.Amount {
	if s.Meta == nil || len(s.Meta.DeliveredAmount) == 0 {
		return nil
	}
	amt, err := types.ParseAmount(s.Meta.DeliveredAmount)
	if err != nil {
		return nil
	}
	return &amt
}

type envelope struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
}

// DecodeStream parses a stream message. Messages that are not transaction
// messages yield (nil, nil).
func DecodeStream(data []byte) (*TransactionStream, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode stream envelope: %w", err)
	}
	if env.Type != "transaction" {
		return nil, nil
	}
	var msg TransactionStream
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode transaction message: %w", err)
	}
	return &msg, nil
}
