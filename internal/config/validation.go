package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidateConfig checks every section of the configuration.
func ValidateConfig(config *Config) error {
	if err := config.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger config validation failed: %w", err)
	}
	if err := config.CacheWindow().Validate(); err != nil {
		return fmt.Errorf("cache config validation failed: %w", err)
	}
	if err := config.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("payments config validation failed: %w", err)
	}
	if err := config.Signers.Validate(); err != nil {
		return fmt.Errorf("signers config validation failed: %w", err)
	}
	if err := config.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config validation failed: %w", err)
	}
	if err := config.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config validation failed: %w", err)
	}
	if err := config.Log.Validate(); err != nil {
		return fmt.Errorf("log config validation failed: %w", err)
	}
	return nil
}

func (l *LedgerConfig) Validate() error {
	if l.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(l.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", l.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if l.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if l.PingInterval < 0 {
		return fmt.Errorf("ping_interval must not be negative")
	}
	if l.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1")
	}
	return nil
}

func (s *SignersConfig) Validate() error {
	for i, seed := range s.Seeds {
		if !strings.HasPrefix(seed, "s") {
			return fmt.Errorf("seeds[%d] is not a family seed", i)
		}
	}
	if s.DelegatedTimeout <= 0 {
		return fmt.Errorf("delegated_timeout must be positive")
	}
	return nil
}

func (a *ArchiveConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Path == "" {
		return fmt.Errorf("path is required when the archive is enabled")
	}
	if a.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Addr == "" {
		return fmt.Errorf("addr is required when metrics are enabled")
	}
	return nil
}

func (l *LogConfig) Validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
}
