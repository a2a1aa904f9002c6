// Package classifier turns raw transaction stream messages into normalized
// records for the watched accounts.
package classifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/core/types/transactions"
	"github.com/LeJamon/xrplwatch/internal/gateway"
)

var ErrMalformed = errors.New("malformed transaction")

// WatchSet answers whether an address is currently watched.
type WatchSet interface {
	IsWatched(address string) bool
}

// Classifier is stateless apart from its collaborators and safe for
// concurrent use.
type Classifier struct {
	watched WatchSet
	now     func() time.Time
}

// New returns a Classifier. A nil now uses time.Now.
func New(watched WatchSet, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{watched: watched, now: now}
}

// Classify normalizes msg. Messages that involve no watched account are
// reported as not relevant and are not normalized.
func (c *Classifier) Classify(msg *gateway.TransactionStream) (*types.NormalizedTransaction, bool, error) {
	if msg == nil {
		return nil, false, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	tx, err := msg.Decode()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if !c.watched.IsWatched(tx.Account) && !(tx.Destination != "" && c.watched.IsWatched(tx.Destination)) {
		return nil, false, nil
	}

	hash := tx.Hash
	if hash == "" {
		hash = msg.TxHash()
	}
	if hash == "" {
		return nil, true, fmt.Errorf("%w: missing hash", ErrMalformed)
	}

	now := c.now()
	rec := &types.NormalizedTransaction{
		Hash:            hash,
		Type:            types.TxTypeOf(tx.TransactionType),
		TransactionType: tx.TransactionType,
		Account:         tx.Account,
		Destination:     tx.Destination,
		Fee:             tx.FeeDrops(),
		Sequence:        tx.Sequence,
		SourceTag:       tx.SourceTag,
		Memos:           tx.DecodedMemos(),
		Result:          msg.Result(),
		LedgerIndex:     msg.LedgerIndex,
		Validated:       msg.Validated,
		CachedAt:        now,
	}
	if closeTime, ok := msg.CloseTime(); ok {
		rec.ValidatedAt = gateway.FromRippleTime(closeTime)
	} else if msg.Validated {
		rec.ValidatedAt = now
	}

	switch rec.Type {
	case types.TxPayment:
		err = classifyPayment(rec, tx, msg)
	case types.TxTrustSet:
		err = classifyTrustSet(rec, tx)
	case types.TxAccountSet:
		classifyAccountSet(rec, tx)
	}
	if err != nil {
		return nil, true, fmt.Errorf("%w: %s %s: %v", ErrMalformed, rec.TransactionType, hash, err)
	}
	return rec, true, nil
}

func classifyPayment(rec *types.NormalizedTransaction, tx *transactions.Transaction, msg *gateway.TransactionStream) error {
	amount, err := types.ParseAmount(tx.PaymentAmount())
	if err != nil {
		return err
	}
	rec.Amount = &amount
	rec.DestinationTag = tx.DestinationTag
	rec.DeliveredAmount = msg.DeliveredAmount()
	return nil
}

func classifyTrustSet(rec *types.NormalizedTransaction, tx *transactions.Transaction) error {
	limit, err := types.ParseAmount(tx.LimitAmount)
	if err != nil {
		return err
	}
	if limit.IsNative() {
		return errors.New("trust line limit must be an issued amount")
	}
	rec.TrustLine = &types.TrustLineChange{
		Currency: limit.Issued.Currency,
		Issuer:   limit.Issued.Issuer,
		Limit:    limit.Issued.Value,
		Flags:    tx.Flags,
	}
	return nil
}

func classifyAccountSet(rec *types.NormalizedTransaction, tx *transactions.Transaction) {
	change := &types.AccountSetChange{Flags: tx.Flags}
	if tx.SetFlag != nil {
		change.SetFlag = *tx.SetFlag
		change.SetFlagName = types.AccountFlagName(*tx.SetFlag)
	}
	if tx.ClearFlag != nil {
		change.ClearFlag = *tx.ClearFlag
		change.ClearFlagName = types.AccountFlagName(*tx.ClearFlag)
	}
	rec.AccountSet = change
}
