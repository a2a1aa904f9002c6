package config

import (
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/gateway"
	"github.com/LeJamon/xrplwatch/internal/payment"
	"github.com/LeJamon/xrplwatch/internal/txcache"
)

// Config represents the complete xrplwatch configuration.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger" mapstructure:"ledger"`
	Cache    CacheConfig    `toml:"cache" mapstructure:"cache"`
	Payments PaymentsConfig `toml:"payments" mapstructure:"payments"`
	Fees     FeesConfig     `toml:"fees" mapstructure:"fees"`
	Signers  SignersConfig  `toml:"signers" mapstructure:"signers"`
	Archive  ArchiveConfig  `toml:"archive" mapstructure:"archive"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`

	// Internal fields (not from config file)
	configPath string
}

// LedgerConfig points at a rippled-compatible websocket endpoint.
type LedgerConfig struct {
	URL            string        `toml:"url" mapstructure:"url"`
	RequestTimeout time.Duration `toml:"request_timeout" mapstructure:"request_timeout"`
	PingInterval   time.Duration `toml:"ping_interval" mapstructure:"ping_interval"`
	EventBuffer    int           `toml:"event_buffer" mapstructure:"event_buffer"`
}

type CacheConfig struct {
	MaxEntries      int           `toml:"max_entries" mapstructure:"max_entries"`
	MaxAge          time.Duration `toml:"max_age" mapstructure:"max_age"`
	CleanupInterval time.Duration `toml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

type PaymentsConfig struct {
	MinDrops            int64         `toml:"min_drops" mapstructure:"min_drops"`
	MaxDrops            int64         `toml:"max_drops" mapstructure:"max_drops"`
	ConfirmationTimeout time.Duration `toml:"confirmation_timeout" mapstructure:"confirmation_timeout"`
	SweepInterval       time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
	LastLedgerOffset    uint32        `toml:"last_ledger_offset" mapstructure:"last_ledger_offset"`
	HistoryTTL          time.Duration `toml:"history_ttl" mapstructure:"history_ttl"`
	IdempotencyTTL      time.Duration `toml:"idempotency_ttl" mapstructure:"idempotency_ttl"`
	SubmitRate          float64       `toml:"submit_rate" mapstructure:"submit_rate"`
	SubmitBurst         int           `toml:"submit_burst" mapstructure:"submit_burst"`
}

// FeesConfig holds the per-type multipliers applied to the base fee.
type FeesConfig struct {
	Payment    float64 `toml:"payment" mapstructure:"payment"`
	TrustSet   float64 `toml:"trust_set" mapstructure:"trust_set"`
	AccountSet float64 `toml:"account_set" mapstructure:"account_set"`
}

// SignersConfig selects the signing backends. Seeds are family seeds for
// the local seed signer; they are best supplied through the environment.
type SignersConfig struct {
	Seeds            []string      `toml:"seeds" mapstructure:"seeds"`
	DelegatedTimeout time.Duration `toml:"delegated_timeout" mapstructure:"delegated_timeout"`
}

type ArchiveConfig struct {
	Enabled   bool          `toml:"enabled" mapstructure:"enabled"`
	Path      string        `toml:"path" mapstructure:"path"`
	Retention time.Duration `toml:"retention" mapstructure:"retention"`
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" mapstructure:"enabled"`
	Addr      string `toml:"addr" mapstructure:"addr"`
	Namespace string `toml:"namespace" mapstructure:"namespace"`
}

type LogConfig struct {
	Level  string `toml:"level" mapstructure:"level"`
	Format string `toml:"format" mapstructure:"format"`
}

// GetConfigPath returns the file the configuration was read from, if any.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// GatewayOptions maps the ledger section onto the websocket client options.
func (c *Config) GatewayOptions() gateway.Options {
	return gateway.Options{
		URL:            c.Ledger.URL,
		RequestTimeout: c.Ledger.RequestTimeout,
		PingInterval:   c.Ledger.PingInterval,
		EventBuffer:    c.Ledger.EventBuffer,
	}
}

func (c *Config) CacheWindow() txcache.Config {
	return txcache.Config{
		MaxEntries:      c.Cache.MaxEntries,
		MaxAge:          c.Cache.MaxAge,
		CleanupInterval: c.Cache.CleanupInterval,
	}
}

// EngineConfig combines the payments and fees sections.
func (c *Config) EngineConfig() payment.Config {
	return payment.Config{
		MinDrops:            XRPAmount.NewXRPAmount(c.Payments.MinDrops),
		MaxDrops:            XRPAmount.NewXRPAmount(c.Payments.MaxDrops),
		ConfirmationTimeout: c.Payments.ConfirmationTimeout,
		SweepInterval:       c.Payments.SweepInterval,
		LastLedgerOffset:    c.Payments.LastLedgerOffset,
		HistoryTTL:          c.Payments.HistoryTTL,
		IdempotencyTTL:      c.Payments.IdempotencyTTL,
		SubmitRate:          c.Payments.SubmitRate,
		SubmitBurst:         c.Payments.SubmitBurst,
		Fees: payment.FeeMultipliers{
			Payment:    c.Fees.Payment,
			TrustSet:   c.Fees.TrustSet,
			AccountSet: c.Fees.AccountSet,
		},
	}
}
