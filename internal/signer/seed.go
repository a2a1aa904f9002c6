package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/Peersyst/xrpl-go/xrpl/wallet"
)

// SeedSigner signs locally with family seeds loaded from configuration.
type SeedSigner struct {
	mu      sync.RWMutex
	wallets map[string]*wallet.Wallet
}

// NewSeedSigner derives a wallet for each seed.
func NewSeedSigner(seeds ...string) (*SeedSigner, error) {
	s := &SeedSigner{wallets: make(map[string]*wallet.Wallet)}
	for _, seed := range seeds {
		if _, err := s.AddSeed(seed); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddSeed derives the wallet for seed and returns its classic address.
func (s *SeedSigner) AddSeed(seed string) (string, error) {
	w, err := wallet.FromSeed(seed, "")
	if err != nil {
		return "", fmt.Errorf("derive wallet from seed: %w", err)
	}
	address := string(w.ClassicAddress)

	s.mu.Lock()
	s.wallets[address] = &w
	s.mu.Unlock()
	return address, nil
}

func (s *SeedSigner) WalletType() WalletType {
	return WalletSeed
}

// Accounts lists the addresses this signer can sign for.
func (s *SeedSigner) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.wallets))
	for a := range s.wallets {
		out = append(out, a)
	}
	return out
}

func (s *SeedSigner) Sign(ctx context.Context, tx map[string]interface{}) (Signed, error) {
	if err := ctx.Err(); err != nil {
		return Signed{}, err
	}
	account, _ := tx["Account"].(string)

	s.mu.RLock()
	w, ok := s.wallets[account]
	s.mu.RUnlock()
	if !ok {
		return Signed{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}

	tx["SigningPubKey"] = w.PublicKey
	blob, hash, err := w.Sign(tx)
	if err != nil {
		return Signed{}, fmt.Errorf("sign with seed wallet: %w", err)
	}
	return Signed{Blob: blob, Hash: hash}, nil
}
