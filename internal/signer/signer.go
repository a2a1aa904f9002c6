// Package signer holds the pluggable wallet-signing backends. Key handling
// and transaction serialization are left to the backends themselves.
package signer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// WalletType names the backend that holds a user's keys.
type WalletType string

const (
	WalletSeed      WalletType = "seed"
	WalletXumm      WalletType = "xumm"
	WalletGem       WalletType = "gemwallet"
	WalletCrossmark WalletType = "crossmark"
)

func (w WalletType) Valid() bool {
	switch w {
	case WalletSeed, WalletXumm, WalletGem, WalletCrossmark:
		return true
	}
	return false
}

var (
	ErrUnknownWallet     = errors.New("no signer registered for wallet type")
	ErrUnknownAccount    = errors.New("signer holds no key for account")
	ErrUserRejected      = errors.New("signature request rejected by user")
	ErrSignerUnavailable = errors.New("signer unavailable")
)

// Signed is a signed transaction ready for submission.
type Signed struct {
	Blob string
	Hash string
}

// Signer signs a transaction given in generic map form. The map must carry
// every field the ledger needs (Fee, Sequence, LastLedgerSequence); signers
// only add the signing fields.
type Signer interface {
	WalletType() WalletType
	Sign(ctx context.Context, tx map[string]interface{}) (Signed, error)
}

// Registry maps wallet types to signers. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	signers map[WalletType]Signer
}

func NewRegistry(signers ...Signer) *Registry {
	r := &Registry{signers: make(map[WalletType]Signer)}
	for _, s := range signers {
		r.Register(s)
	}
	return r
}

// Register adds s under its wallet type, replacing any previous signer.
func (r *Registry) Register(s Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[s.WalletType()] = s
}

func (r *Registry) Get(wt WalletType) (Signer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.signers[wt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWallet, wt)
	}
	return s, nil
}

func (r *Registry) Types() []WalletType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WalletType, 0, len(r.signers))
	for wt := range r.signers {
		out = append(out, wt)
	}
	return out
}
