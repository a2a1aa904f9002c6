package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/LeJamon/xrplwatch/internal/config"
	"github.com/LeJamon/xrplwatch/internal/eventbus"
	"github.com/LeJamon/xrplwatch/internal/gateway"
	"github.com/LeJamon/xrplwatch/internal/metrics"
	"github.com/LeJamon/xrplwatch/internal/monitor"
	"github.com/LeJamon/xrplwatch/internal/payment"
	"github.com/LeJamon/xrplwatch/internal/signer"
	"github.com/LeJamon/xrplwatch/internal/storage/archive"
	"github.com/LeJamon/xrplwatch/internal/txcache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// app holds the process components, built once and shared by the commands.
type app struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	gw      gateway.Gateway
	bus     *eventbus.Bus
	cache   *txcache.Cache
	monitor *monitor.Monitor
	signers *signer.Registry
	archive *archive.Archive
	engine  *payment.Engine

	closers []func() error
}

// dialApp connects to the configured ledger endpoint and builds the app on
// top of it.
func dialApp(ctx context.Context, c *config.Config, log logrus.FieldLogger, requester signer.Requester) (*app, error) {
	client, err := gateway.Dial(ctx, c.GatewayOptions(), log)
	if err != nil {
		return nil, err
	}
	a, err := newApp(c, client, log, requester)
	if err != nil {
		client.Close()
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return a, nil
}

func newApp(c *config.Config, gw gateway.Gateway, log logrus.FieldLogger, requester signer.Requester) (*app, error) {
	a := &app{cfg: c, log: log, gw: gw}
	if c.Metrics.Enabled {
		a.metrics = metrics.New(c.Metrics.Namespace)
	}

	a.bus = eventbus.New(log, a.metrics)
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	cache, err := txcache.New(c.CacheWindow(), nil, log, a.metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("transaction cache: %w", err)
	}
	a.cache = cache

	a.monitor = monitor.New(gw, cache, a.bus, log, a.metrics)
	a.closers = append(a.closers, func() error { a.monitor.Close(); return nil })

	a.signers, err = newRegistry(c.Signers, requester, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []payment.Option{
		payment.WithLookup(cache),
		payment.WithWatcher(a.monitor),
	}
	if c.Archive.Enabled {
		a.archive, err = archive.Open(c.Archive.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open payment archive: %w", err)
		}
		a.closers = append(a.closers, a.archive.Close)
		opts = append(opts, payment.WithArchive(a.archive))
	}

	a.engine, err = payment.NewEngine(gw, a.signers, a.bus, c.EngineConfig(), log, a.metrics, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("payment engine: %w", err)
	}
	return a, nil
}

// newRegistry registers the seed signer and one delegated signer per
// external wallet type.
func newRegistry(c config.SignersConfig, requester signer.Requester, log logrus.FieldLogger) (*signer.Registry, error) {
	seeds, err := signer.NewSeedSigner(c.Seeds...)
	if err != nil {
		return nil, err
	}
	for _, account := range seeds.Accounts() {
		log.WithField("account", account).Info("Loaded seed wallet")
	}

	reg := signer.NewRegistry(seeds)
	for _, wt := range []signer.WalletType{signer.WalletXumm, signer.WalletGem, signer.WalletCrossmark} {
		reg.Register(signer.NewDelegatedSigner(wt, requester, c.DelegatedTimeout))
	}
	return reg, nil
}

// Close releases the components in reverse construction order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// run watches the given addresses and keeps the background loops going
// until ctx is done or one of them fails.
func (a *app) run(ctx context.Context, watch []string) error {
	for _, addr := range watch {
		if err := a.monitor.Subscribe(ctx, addr); err != nil {
			return fmt.Errorf("watch %s: %w", addr, err)
		}
		a.log.WithField("account", addr).Info("Watching account")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.cache.Run(ctx) })
	g.Go(func() error { return a.engine.Run(ctx) })
	g.Go(func() error { return a.logTransactions(ctx) })
	if a.archive != nil {
		g.Go(func() error { return a.pruneArchive(ctx) })
	}
	if a.metrics != nil {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}
	return g.Wait()
}

func (a *app) logTransactions(ctx context.Context) error {
	sub := eventbus.Subscribe(a.bus, eventbus.TopicTransactionNew, 256)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tx, ok := <-sub.C:
			if !ok {
				return nil
			}
			fields := logrus.Fields{
				"hash":    tx.Hash,
				"type":    tx.Type,
				"account": tx.Account,
				"result":  tx.Result,
				"ledger":  tx.LedgerIndex,
			}
			if tx.Destination != "" {
				fields["destination"] = tx.Destination
			}
			if tx.DeliveredAmount != nil {
				fields["delivered"] = tx.DeliveredAmount.String()
			}
			a.log.WithFields(fields).Info("Transaction validated")
		}
	}
}

// pruneArchive drops archived payments older than the retention window once
// at start and then hourly.
func (a *app) pruneArchive(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := a.archive.Prune(time.Now().Add(-a.cfg.Archive.Retention))
		if err != nil {
			a.log.WithError(err).Warn("Pruning payment archive failed")
		} else if n > 0 {
			a.log.WithField("removed", n).Info("Pruned payment archive")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"status":"ok","service":"xrplwatch"}`)
	})
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.WithField("addr", a.cfg.Metrics.Addr).Info("Serving metrics")

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
