// Package payment drives outbound payments through
// Created → Validated → Submitted → Confirmed | Failed | TimedOut.
package payment

import (
	"context"
	"sync"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/core/types/transactions/transactionTypes"
	"github.com/LeJamon/xrplwatch/internal/eventbus"
	"github.com/LeJamon/xrplwatch/internal/gateway"
	"github.com/LeJamon/xrplwatch/internal/metrics"
	"github.com/LeJamon/xrplwatch/internal/signer"
	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const releaseTimeout = 5 * time.Second

var (
	TopicSubmitted = eventbus.NewTopic[Payment]("payment.submitted")
	TopicConfirmed = eventbus.NewTopic[Payment]("payment.confirmed")
	TopicFailed    = eventbus.NewTopic[Payment]("payment.failed")
	TopicTimedOut  = eventbus.NewTopic[Payment]("payment.timed_out")
)

// record is the mutable state behind an active payment.
type record struct {
	// run serializes drives of the same payment.
	run sync.Mutex

	p        Payment
	sequence uint32
	blob     string
	hash     string
	watched  bool
	// owns is set when the engine subscribed the source for this payment.
	owns bool
}

type Engine struct {
	gw      gateway.Gateway
	signers *signer.Registry
	bus     *eventbus.Bus
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	clock   Clock
	lookup  Lookup
	watcher Watcher
	archive Archive

	limiter  *rate.Limiter
	feeGroup singleflight.Group

	mu     sync.Mutex
	active map[string]*record
	byHash map[string]string
	// owned counts active payments per source the engine subscribed itself.
	owned map[string]int
	// history holds terminal snapshots by id, keys maps idempotency keys
	// to ids.
	history *cache.Cache
	keys    *cache.Cache
}

func NewEngine(gw gateway.Gateway, signers *signer.Registry, bus *eventbus.Bus, cfg Config, logger logrus.FieldLogger, m *metrics.Metrics, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		gw:      gw,
		signers: signers,
		bus:     bus,
		cfg:     cfg,
		log:     logger.WithField("component", "payment"),
		metrics: m,
		clock:   realClock{},
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst),
		active:  make(map[string]*record),
		byHash:  make(map[string]string),
		owned:   make(map[string]int),
		history: cache.New(cfg.HistoryTTL, cfg.HistoryTTL/2),
		keys:    cache.New(cfg.IdempotencyTTL, cfg.IdempotencyTTL/2),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Submit validates req, creates the payment and drives it up to Submitted.
// Validation errors are returned without a payment. Funding problems and
// terminal failures return the Failed payment along with the error. A
// network error leaves the payment in its prior state; resubmitting with the
// same idempotency key resumes it.
func (e *Engine) Submit(ctx context.Context, req Request) (Payment, error) {
	kind, err := e.validateRequest(req)
	if err != nil {
		return Payment{}, err
	}

	rec, prior, found := e.claim(req, kind)
	if found {
		if rec == nil || prior.State.rank() > StateValidated.rank() {
			return prior, nil
		}
		e.log.WithField("payment_id", prior.ID).Info("Resuming payment")
	}
	return e.drive(ctx, rec)
}

// claim returns the payment already bound to the idempotency key or creates
// a new one. rec is nil for payments that are no longer active.
func (e *Engine) claim(req Request, kind Kind) (rec *record, prior Payment, found bool) {
	e.mu.Lock()
	if req.IdempotencyKey != "" {
		if v, ok := e.keys.Get(req.IdempotencyKey); ok {
			id := v.(string)
			if rec, ok := e.active[id]; ok {
				prior = rec.p.clone()
				e.mu.Unlock()
				return rec, prior, true
			}
			if p, ok := e.history.Get(id); ok {
				e.mu.Unlock()
				return nil, p.(Payment).clone(), true
			}
			if e.archive != nil {
				if p, err := e.archive.Get(id); err == nil {
					e.mu.Unlock()
					return nil, p, true
				}
			}
		}
	}

	now := e.clock.Now()
	rec = &record{p: Payment{
		ID:             NewID(),
		IdempotencyKey: req.IdempotencyKey,
		Kind:           kind,
		WalletType:     req.WalletType,
		Source:         req.Source,
		Destination:    req.Destination,
		Amount:         req.Amount,
		DestinationTag: req.DestinationTag,
		SourceTag:      req.SourceTag,
		Memos:          req.Memos,
		State:          StateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	rec.p = rec.p.clone()
	e.active[rec.p.ID] = rec
	if req.IdempotencyKey != "" {
		e.keys.Set(req.IdempotencyKey, rec.p.ID, cache.DefaultExpiration)
	}
	e.mu.Unlock()

	e.metrics.PaymentTransition(string(StateCreated))
	e.log.WithFields(logrus.Fields{
		"payment_id":  rec.p.ID,
		"source":      req.Source,
		"destination": req.Destination,
		"amount":      req.Amount.String(),
	}).Info("Payment created")
	return rec, Payment{}, false
}

func (e *Engine) drive(ctx context.Context, rec *record) (Payment, error) {
	rec.run.Lock()
	defer rec.run.Unlock()

	start := e.clock.Now()
	p := e.snapshot(rec)
	log := e.log.WithField("payment_id", p.ID)

	if p.State == StateCreated {
		fund, err := e.checkFunds(ctx, p)
		if err != nil {
			if types.IsValidation(err) {
				snap, _ := e.transition(rec, StateFailed, err.Error(), nil)
				return snap, err
			}
			log.WithError(err).Warn("Funding check failed, payment left in created state")
			return p, err
		}
		rec.sequence = fund.sequence
		p, _ = e.transition(rec, StateValidated, "", func(p *Payment) {
			p.Fee = fund.fee
			p.LastLedgerSequence = fund.ledgerIndex + e.cfg.LastLedgerOffset
		})
	}

	if p.State != StateValidated {
		return p, nil
	}

	resumed := rec.blob != ""
	if !resumed {
		signed, err := e.sign(ctx, p, rec.sequence)
		if err != nil {
			f := &Failure{Kind: FailureSigner, Err: err}
			snap, _ := e.transition(rec, StateFailed, f.Reason(), nil)
			return snap, f
		}
		e.mu.Lock()
		rec.blob, rec.hash = signed.Blob, signed.Hash
		if signed.Hash != "" {
			e.byHash[signed.Hash] = p.ID
		}
		e.mu.Unlock()
	}

	if e.watcher != nil && !rec.watched {
		if err := e.watch(ctx, rec, p.Source); err != nil {
			log.WithError(err).Warn("Could not watch source account, relying on lazy confirmation")
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return p, err
	}

	res, err := e.gw.Submit(ctx, rec.blob)
	if err != nil {
		log.WithError(err).Warn("Submit failed, payment left in validated state")
		return p, err
	}
	e.metrics.SubmitDuration(e.clock.Now().Sub(start))

	if types.IsFinalRejection(res.EngineResult) {
		// A resent blob whose earlier submit reply was lost may already be
		// in a ledger, and then the server answers tefPAST_SEQ or similar.
		if resumed && rec.hash != "" && types.ClassifyResult(res.EngineResult) == types.ClassFailure {
			return e.reconcile(ctx, rec, res.EngineResult)
		}
		f := &Failure{Kind: FailureRejection, Code: res.EngineResult}
		snap, _ := e.transition(rec, StateFailed, f.Reason(), func(p *Payment) {
			p.Hash = rec.hash
			p.Result = res.EngineResult
		})
		return snap, f
	}

	hash := res.Hash
	if hash == "" {
		hash = rec.hash
	}
	snap, _ := e.transition(rec, StateSubmitted, "", func(p *Payment) {
		p.Hash = hash
		p.Result = res.EngineResult
		p.SubmittedAt = e.clock.Now()
	})
	if hash != "" && hash != rec.hash {
		e.mu.Lock()
		delete(e.byHash, rec.hash)
		rec.hash = hash
		e.byHash[hash] = p.ID
		e.mu.Unlock()
	}
	return snap, nil
}

// reconcile resolves a tef answer to a resent blob by looking the hash up.
// The payment moves to Submitted and settles at once when the transaction
// is already validated; otherwise confirmation tracking decides.
func (e *Engine) reconcile(ctx context.Context, rec *record, code string) (Payment, error) {
	e.log.WithFields(logrus.Fields{"hash": rec.hash, "result": code}).Info("Resent payment answered with tef, checking ledger")
	e.transition(rec, StateSubmitted, "", func(p *Payment) {
		p.Hash = rec.hash
		p.Result = code
		p.SubmittedAt = e.clock.Now()
	})
	e.recheck(ctx, rec)

	snap := e.snapshot(rec)
	if snap.State == StateFailed {
		return snap, &Failure{Kind: FailureRejection, Code: snap.Result}
	}
	return snap, nil
}

// watch makes the stream carry src's transactions for rec. A source the
// engine subscribes itself is released when its last payment settles; one
// watched by someone else is left alone.
func (e *Engine) watch(ctx context.Context, rec *record, src string) error {
	if e.join(rec, src) {
		return nil
	}
	if e.watcher.IsWatched(src) {
		if !e.join(rec, src) {
			e.mu.Lock()
			rec.watched = true
			e.mu.Unlock()
		}
		return nil
	}
	if err := e.watcher.Subscribe(ctx, src); err != nil {
		return err
	}
	e.mu.Lock()
	e.owned[src]++
	rec.watched, rec.owns = true, true
	e.mu.Unlock()
	return nil
}

// join attaches rec to a subscription the engine already holds for src.
func (e *Engine) join(rec *record, src string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec.watched {
		return true
	}
	if e.owned[src] == 0 {
		return false
	}
	e.owned[src]++
	rec.watched, rec.owns = true, true
	return true
}

// release drops the engine's subscription to src.
func (e *Engine) release(src string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := e.watcher.Unsubscribe(ctx, src); err != nil {
		e.log.WithError(err).WithField("account", src).Warn("Releasing source account failed")
		return
	}
	e.log.WithField("account", src).Debug("Released source account")
}

func (e *Engine) sign(ctx context.Context, p Payment, sequence uint32) (signer.Signed, error) {
	s, err := e.signers.Get(p.WalletType)
	if err != nil {
		return signer.Signed{}, err
	}

	tx := transactionTypes.NewPaymentTransaction(p.Source, p.Destination, p.Amount)
	tx.SetFee(p.Fee)
	tx.Sequence = sequence
	tx.LastLedgerSequence = p.LastLedgerSequence
	tx.DestinationTag = p.DestinationTag
	tx.SourceTag = p.SourceTag
	for _, m := range p.Memos {
		tx.AddMemo(m)
	}
	return s.Sign(ctx, tx.Flatten())
}

func (e *Engine) snapshot(rec *record) Payment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return rec.p.clone()
}

// transition moves rec forward to state. It refuses backward or repeated
// moves and reports whether it happened. Terminal payments leave the active
// set for the history view and the archive.
func (e *Engine) transition(rec *record, to State, reason string, mutate func(*Payment)) (Payment, bool) {
	e.mu.Lock()
	if !canAdvance(rec.p.State, to) {
		snap := rec.p.clone()
		e.mu.Unlock()
		return snap, false
	}
	if mutate != nil {
		mutate(&rec.p)
	}
	rec.p.State = to
	if reason != "" {
		rec.p.Reason = reason
	}
	rec.p.UpdatedAt = e.clock.Now()
	snap := rec.p.clone()
	var release string
	if to.Terminal() {
		delete(e.active, snap.ID)
		if rec.hash != "" {
			delete(e.byHash, rec.hash)
		}
		e.history.Set(snap.ID, snap, cache.DefaultExpiration)
		if rec.owns {
			rec.owns = false
			if e.owned[snap.Source]--; e.owned[snap.Source] <= 0 {
				delete(e.owned, snap.Source)
				release = snap.Source
			}
		}
	}
	e.mu.Unlock()

	if release != "" {
		e.release(release)
	}

	e.metrics.PaymentTransition(string(to))
	fields := logrus.Fields{"payment_id": snap.ID, "state": to}
	if snap.Hash != "" {
		fields["hash"] = snap.Hash
	}
	if reason != "" {
		fields["reason"] = reason
	}
	e.log.WithFields(fields).Info("Payment state changed")

	if to.Terminal() && e.archive != nil {
		if err := e.archive.Put(snap); err != nil {
			e.log.WithError(err).WithField("payment_id", snap.ID).Warn("Archiving payment failed")
		}
	}
	e.publish(snap)
	return snap, true
}

func (e *Engine) publish(p Payment) {
	switch p.State {
	case StateSubmitted:
		eventbus.Publish(e.bus, TopicSubmitted, p)
	case StateConfirmed:
		eventbus.Publish(e.bus, TopicConfirmed, p)
	case StateFailed:
		eventbus.Publish(e.bus, TopicFailed, p)
	case StateTimedOut:
		eventbus.Publish(e.bus, TopicTimedOut, p)
	}
}

// Active returns snapshots of the non-terminal payments.
func (e *Engine) Active() []Payment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Payment, 0, len(e.active))
	for _, rec := range e.active {
		out = append(out, rec.p.clone())
	}
	return out
}

func (e *Engine) since(t time.Time) time.Duration {
	return e.clock.Now().Sub(t)
}
