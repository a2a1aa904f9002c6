package signer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Requester forwards a signature request to an external wallet app (a
// browser extension or a mobile wallet) and waits for the user's answer.
// Implementations return ErrUserRejected when the user declines.
type Requester interface {
	RequestSignature(ctx context.Context, walletType WalletType, tx map[string]interface{}) (Signed, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, walletType WalletType, tx map[string]interface{}) (Signed, error)

func (f RequesterFunc) RequestSignature(ctx context.Context, walletType WalletType, tx map[string]interface{}) (Signed, error) {
	return f(ctx, walletType, tx)
}

// DelegatedSigner signs through an external wallet for one wallet type.
type DelegatedSigner struct {
	walletType WalletType
	requester  Requester
	timeout    time.Duration
}

// NewDelegatedSigner returns a signer for walletType. A zero timeout waits
// for as long as the caller's context allows.
func NewDelegatedSigner(walletType WalletType, requester Requester, timeout time.Duration) *DelegatedSigner {
	return &DelegatedSigner{walletType: walletType, requester: requester, timeout: timeout}
}

func (d *DelegatedSigner) WalletType() WalletType {
	return d.walletType
}

func (d *DelegatedSigner) Sign(ctx context.Context, tx map[string]interface{}) (Signed, error) {
	if d.requester == nil {
		return Signed{}, fmt.Errorf("%w: %s has no requester", ErrSignerUnavailable, d.walletType)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	signed, err := d.requester.RequestSignature(ctx, d.walletType, tx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		return Signed{}, fmt.Errorf("%w: %s did not answer in time", ErrSignerUnavailable, d.walletType)
	default:
		return Signed{}, fmt.Errorf("%s: %w", d.walletType, err)
	}
	if signed.Blob == "" {
		return Signed{}, fmt.Errorf("%w: %s returned an empty blob", ErrSignerUnavailable, d.walletType)
	}
	return signed, nil
}
