// Package metrics holds the Prometheus collectors of the monitor and the
// payment engine. All methods are safe on a nil *Metrics, which records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "xrplwatch"

type Metrics struct {
	registry *prometheus.Registry

	cacheEntries    prometheus.Gauge
	cacheEvictions  prometheus.Counter
	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	watchedAccounts prometheus.Gauge
	paymentStates   *prometheus.CounterVec
	submitLatency   prometheus.Histogram
	busDropped      *prometheus.CounterVec
}

// New builds the collectors on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of transactions currently cached.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Transactions removed from the cache.",
		}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_processed_total",
			Help:      "Relevant transactions classified and cached, by type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_dropped_total",
			Help:      "Stream messages not cached, by reason.",
		}, []string{"reason"}),
		watchedAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "watched_accounts",
			Help:      "Number of watched accounts.",
		}),
		paymentStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Payment state transitions, by target state.",
		}, []string{"state"}),
		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "submit_duration_seconds",
			Help:      "Time from request to ledger submission.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Events not delivered because a subscriber buffer was full.",
		}, []string{"topic"}),
	}

	m.registry.MustRegister(
		m.cacheEntries,
		m.cacheEvictions,
		m.eventsProcessed,
		m.eventsDropped,
		m.watchedAccounts,
		m.paymentStates,
		m.submitLatency,
		m.busDropped,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

func (m *Metrics) CacheEvicted() {
	if m == nil {
		return
	}
	m.cacheEvictions.Inc()
}

func (m *Metrics) EventProcessed(txType string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(txType).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) WatchedAccounts(n int) {
	if m == nil {
		return
	}
	m.watchedAccounts.Set(float64(n))
}

func (m *Metrics) PaymentTransition(state string) {
	if m == nil {
		return
	}
	m.paymentStates.WithLabelValues(state).Inc()
}

func (m *Metrics) SubmitDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d.Seconds())
}

func (m *Metrics) BusDropped(topic string) {
	if m == nil {
		return
	}
	m.busDropped.WithLabelValues(topic).Inc()
}
