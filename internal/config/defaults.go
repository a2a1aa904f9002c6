package config

import "github.com/spf13/viper"

// setDefaults sets every default value. A configuration file only needs to
// name what differs.
func setDefaults(v *viper.Viper) {
	// Ledger connection
	v.SetDefault("ledger.url", "wss://s.altnet.rippletest.net:51233")
	v.SetDefault("ledger.request_timeout", "10s")
	v.SetDefault("ledger.ping_interval", "30s")
	v.SetDefault("ledger.event_buffer", 1024)

	// Transaction cache window
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.max_age", "1h")
	v.SetDefault("cache.cleanup_interval", "1m")

	// Payment engine
	v.SetDefault("payments.min_drops", 1)
	v.SetDefault("payments.max_drops", 100_000_000_000) // 100,000 XRP
	v.SetDefault("payments.confirmation_timeout", "12s")
	v.SetDefault("payments.sweep_interval", "1s")
	v.SetDefault("payments.last_ledger_offset", 20)
	v.SetDefault("payments.history_ttl", "1h")
	v.SetDefault("payments.idempotency_ttl", "24h")
	v.SetDefault("payments.submit_rate", 10.0)
	v.SetDefault("payments.submit_burst", 5)

	// Fee multipliers
	v.SetDefault("fees.payment", 1.2)
	v.SetDefault("fees.trust_set", 1.5)
	v.SetDefault("fees.account_set", 1.3)

	// Signers
	v.SetDefault("signers.seeds", []string{})
	v.SetDefault("signers.delegated_timeout", "2m")

	// Archive
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "data/payments.db")
	v.SetDefault("archive.retention", "720h")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.namespace", "xrplwatch")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
