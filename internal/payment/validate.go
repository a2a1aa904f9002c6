package payment

import (
	"context"
	"errors"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/gateway"
)

// validateRequest performs the synchronous checks that need no network.
func (e *Engine) validateRequest(req Request) (Kind, error) {
	if err := types.ValidateAddress("source", req.Source); err != nil {
		return "", err
	}
	if err := types.ValidateAddress("destination", req.Destination); err != nil {
		return "", err
	}
	if req.Source == req.Destination {
		return "", types.NewValidationError(types.ErrInvalidAddress, "destination", "must differ from source")
	}
	if _, err := e.signers.Get(req.WalletType); err != nil {
		return "", err
	}

	amt := req.Amount
	if amt.IsNative() {
		if !amt.IsPositive() {
			return "", types.NewValidationError(types.ErrInvalidAmount, "amount", "must be positive")
		}
		if amt.Drops < e.cfg.MinDrops || amt.Drops > e.cfg.MaxDrops {
			return "", types.NewValidationError(types.ErrInvalidAmount, "amount",
				"%s drops outside [%s, %s]", amt.Drops, e.cfg.MinDrops, e.cfg.MaxDrops)
		}
		return KindNative, nil
	}

	if err := types.ValidateCurrency("amount.currency", amt.Currency()); err != nil {
		return "", err
	}
	if err := types.ValidateAddress("amount.issuer", amt.Issuer()); err != nil {
		return "", err
	}
	if !amt.IsPositive() {
		return "", types.NewValidationError(types.ErrInvalidAmount, "amount", "must be positive")
	}
	return KindToken, nil
}

// funding is what the Validated step learns from the ledger.
type funding struct {
	fee         XRPAmount.XRPAmount
	sequence    uint32
	ledgerIndex uint32
}

// checkFunds verifies the source can pay amount plus fee on top of its live
// reserve. Gateway failures are returned unchanged.
func (e *Engine) checkFunds(ctx context.Context, p Payment) (funding, error) {
	schedule, err := e.feeSchedule(ctx)
	if err != nil {
		return funding{}, err
	}
	fee := e.cfg.Fees.EstimateFee(schedule.Fees.Base, types.TxPayment)

	acct, err := e.gw.AccountBalance(ctx, p.Source)
	if errors.Is(err, gateway.ErrAccountNotFound) {
		return funding{}, types.NewValidationError(types.ErrInsufficientBalance, "source", "account %s is not funded", p.Source)
	}
	if err != nil {
		return funding{}, err
	}
	spendable := schedule.Fees.Spendable(acct.Balance, acct.OwnerCount)

	if p.Kind == KindNative {
		need := p.Amount.Drops.Add(fee)
		if spendable < need {
			return funding{}, types.NewValidationError(types.ErrInsufficientBalance, "amount",
				"need %s drops including fee, %s spendable", need, spendable)
		}
	} else {
		if spendable < fee {
			return funding{}, types.NewValidationError(types.ErrInsufficientBalance, "fee",
				"need %s drops for the fee, %s spendable", fee, spendable)
		}
		// An issuer sends its own token without holding a line.
		if p.Source != p.Amount.Issuer() {
			balance, err := e.gw.TrustLineBalance(ctx, p.Source, p.Amount.Currency(), p.Amount.Issuer())
			if errors.Is(err, types.ErrTrustLineNotFound) {
				return funding{}, types.NewValidationError(types.ErrTrustLineNotFound, "amount",
					"%s holds no %s line to %s", p.Source, p.Amount.Currency(), p.Amount.Issuer())
			}
			if err != nil {
				return funding{}, err
			}
			if balance.LessThan(p.Amount.Issued.Value) {
				return funding{}, types.NewValidationError(types.ErrInsufficientBalance, "amount",
					"trust line holds %s %s", balance, p.Amount.Currency())
			}
		}
	}

	return funding{fee: fee, sequence: acct.Sequence, ledgerIndex: schedule.LedgerIndex}, nil
}

// feeSchedule collapses concurrent fetches into one gateway call.
func (e *Engine) feeSchedule(ctx context.Context) (gateway.FeeSchedule, error) {
	v, err, _ := e.feeGroup.Do("fee_schedule", func() (interface{}, error) {
		return e.gw.FeeSchedule(ctx)
	})
	if err != nil {
		return gateway.FeeSchedule{}, err
	}
	return v.(gateway.FeeSchedule), nil
}
