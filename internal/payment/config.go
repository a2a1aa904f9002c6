package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
)

// Config bounds payment requests and drives confirmation tracking.
type Config struct {
	MinDrops XRPAmount.XRPAmount
	MaxDrops XRPAmount.XRPAmount

	// ConfirmationTimeout is how long a Submitted payment may wait for a
	// validated result before it moves to TimedOut.
	ConfirmationTimeout time.Duration
	SweepInterval       time.Duration
	LastLedgerOffset    uint32

	HistoryTTL     time.Duration
	IdempotencyTTL time.Duration

	// SubmitRate is the sustained submissions per second, SubmitBurst the
	// bucket size.
	SubmitRate  float64
	SubmitBurst int

	Fees FeeMultipliers
}

func DefaultConfig() Config {
	return Config{
		MinDrops:            1,
		MaxDrops:            100_000 * XRPAmount.DropsPerXRP,
		ConfirmationTimeout: 12 * time.Second,
		SweepInterval:       time.Second,
		LastLedgerOffset:    20,
		HistoryTTL:          time.Hour,
		IdempotencyTTL:      24 * time.Hour,
		SubmitRate:          10,
		SubmitBurst:         5,
		Fees:                DefaultFeeMultipliers(),
	}
}

func (c Config) Validate() error {
	if c.MinDrops < 1 {
		return errors.New("min drops must be at least 1")
	}
	if c.MaxDrops < c.MinDrops || c.MaxDrops > XRPAmount.MaxDrops {
		return fmt.Errorf("max drops %d out of range [%d, %d]", c.MaxDrops, c.MinDrops, XRPAmount.MaxDrops)
	}
	if c.ConfirmationTimeout <= 0 {
		return errors.New("confirmation timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.LastLedgerOffset == 0 {
		return errors.New("last ledger offset must be positive")
	}
	if c.HistoryTTL <= 0 || c.IdempotencyTTL <= 0 {
		return errors.New("history and idempotency TTLs must be positive")
	}
	if c.SubmitRate <= 0 || c.SubmitBurst < 1 {
		return errors.New("submit rate and burst must be positive")
	}
	return c.Fees.Validate()
}

// Clock is the engine's time source.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Lookup reads validated transactions seen by the monitor.
type Lookup interface {
	Get(hash string) (*types.NormalizedTransaction, bool)
}

// Watcher makes the ledger stream carry a source account's transactions.
type Watcher interface {
	Subscribe(ctx context.Context, address string) error
	Unsubscribe(ctx context.Context, address string) error
	IsWatched(address string) bool
}

// Archive keeps terminal payments past the in-memory history TTL.
type Archive interface {
	Put(p Payment) error
	// Get returns an error wrapping ErrPaymentNotFound for unknown ids.
	Get(id string) (Payment, error)
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLookup enables cache-first confirmation checks.
func WithLookup(l Lookup) Option {
	return func(e *Engine) { e.lookup = l }
}

// WithWatcher subscribes every source account before its first submit, so
// confirmations arrive on the stream. Accounts subscribed this way are
// unsubscribed once none of their payments is active.
func WithWatcher(w Watcher) Option {
	return func(e *Engine) { e.watcher = w }
}

func WithArchive(a Archive) Option {
	return func(e *Engine) { e.archive = a }
}
