// Package monitor is the subscription manager: it owns the watched-account
// set, registers accounts with the ledger gateway and runs the shared loop
// that classifies, caches and publishes incoming transactions.
package monitor

import (
	"context"
	"sort"
	"sync"

	"github.com/LeJamon/xrplwatch/internal/classifier"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/eventbus"
	"github.com/LeJamon/xrplwatch/internal/gateway"
	"github.com/LeJamon/xrplwatch/internal/metrics"
	"github.com/LeJamon/xrplwatch/internal/txcache"
	"github.com/sirupsen/logrus"
)

type Monitor struct {
	gw         gateway.Gateway
	cache      *txcache.Cache
	bus        *eventbus.Bus
	classifier *classifier.Classifier
	log        logrus.FieldLogger
	metrics    *metrics.Metrics

	// opMu serializes watch-set changes together with their gateway
	// registration, so an address is registered at most once.
	opMu sync.Mutex

	mu      sync.RWMutex
	watched map[string]struct{}

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func New(gw gateway.Gateway, cache *txcache.Cache, bus *eventbus.Bus, logger logrus.FieldLogger, m *metrics.Metrics) *Monitor {
	mon := &Monitor{
		gw:      gw,
		cache:   cache,
		bus:     bus,
		log:     logger.WithField("component", "monitor"),
		metrics: m,
		watched: make(map[string]struct{}),
	}
	mon.classifier = classifier.New(mon, nil)
	return mon
}

// Subscribe starts watching address. Watching an already watched address
// only restarts the consumption loop if the event stream ended. A gateway
// failure leaves the address unwatched.
func (m *Monitor) Subscribe(ctx context.Context, address string) error {
	if err := types.ValidateAddress("address", address); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.IsWatched(address) {
		m.startLoop()
		return nil
	}
	if err := m.gw.Subscribe(ctx, address); err != nil {
		m.log.WithError(err).WithField("account", address).Warn("Subscribe failed")
		return err
	}

	m.mu.Lock()
	m.watched[address] = struct{}{}
	n := len(m.watched)
	m.mu.Unlock()

	m.metrics.WatchedAccounts(n)
	m.startLoop()
	m.log.WithFields(logrus.Fields{"account": address, "watched": n}).Info("Watching account")
	return nil
}

// Unsubscribe stops watching address. The consumption loop stops when the
// last address is removed.
func (m *Monitor) Unsubscribe(ctx context.Context, address string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.IsWatched(address) {
		return nil
	}

	m.mu.Lock()
	delete(m.watched, address)
	n := len(m.watched)
	m.mu.Unlock()
	m.metrics.WatchedAccounts(n)

	if n == 0 {
		m.stopLoop()
	}

	if err := m.gw.Unsubscribe(ctx, address); err != nil {
		// The address is already gone from the watched set, so stray
		// deliveries are filtered out by the classifier.
		m.log.WithError(err).WithField("account", address).Warn("Unsubscribe failed")
		return err
	}
	m.log.WithFields(logrus.Fields{"account": address, "watched": n}).Info("Stopped watching account")
	return nil
}

func (m *Monitor) IsWatched(address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.watched[address]
	return ok
}

// Watched returns the watched addresses in sorted order.
func (m *Monitor) Watched() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.watched))
	for a := range m.watched {
		out = append(out, a)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Query reads the transaction cache.
func (m *Monitor) Query(f txcache.Filter) []*types.NormalizedTransaction {
	return m.cache.Query(f)
}

// Running reports whether the consumption loop is active.
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loopCancel != nil
}

// Close stops the consumption loop. Gateway subscriptions are left to the
// gateway's own shutdown.
func (m *Monitor) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.stopLoop()
}

// startLoop and stopLoop are called with opMu held.
func (m *Monitor) startLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done
	go m.consume(ctx, done)
	m.log.Debug("Consumption loop started")
}

func (m *Monitor) stopLoop() {
	m.mu.Lock()
	cancel, done := m.loopCancel, m.loopDone
	m.loopCancel, m.loopDone = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Debug("Consumption loop stopped")
}

func (m *Monitor) consume(ctx context.Context, done chan struct{}) {
	defer close(done)
	events := m.gw.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				m.log.Warn("Ledger event stream closed")
				m.detach(done)
				return
			}
			m.handle(msg)
		}
	}
}

// detach clears the loop fields when the loop ends on its own, so Running
// reports false and the next Subscribe starts a fresh loop.
func (m *Monitor) detach(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopDone != done {
		return
	}
	m.loopCancel()
	m.loopCancel, m.loopDone = nil, nil
}

func (m *Monitor) handle(msg gateway.StreamMessage) {
	if msg.Err != nil {
		m.metrics.EventDropped("stream_error")
		m.log.WithError(msg.Err).Warn("Ledger stream error")
		return
	}

	rec, relevant, err := m.classifier.Classify(msg.Transaction)
	if err != nil {
		m.metrics.EventDropped("malformed")
		m.log.WithError(err).Warn("Skipping unclassifiable transaction")
		return
	}
	if !relevant {
		m.metrics.EventDropped("irrelevant")
		return
	}

	m.cache.Insert(rec)
	stored, ok := m.cache.Get(rec.Hash)
	if !ok {
		stored = rec
	}
	m.metrics.EventProcessed(rec.Type.String())
	eventbus.Publish(m.bus, eventbus.TopicTransactionNew, stored)

	m.log.WithFields(logrus.Fields{
		"hash":   rec.Hash,
		"type":   rec.Type,
		"result": rec.Result,
		"ledger": rec.LedgerIndex,
	}).Debug("Transaction cached")
}
