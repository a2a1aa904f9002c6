package payment

import (
	"context"
	"errors"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/eventbus"
	"github.com/LeJamon/xrplwatch/internal/gateway"
)

// Run consumes validated transactions from the bus and periodically sweeps
// Submitted payments past the confirmation timeout. It returns when ctx is
// done.
func (e *Engine) Run(ctx context.Context) error {
	sub := eventbus.Subscribe(e.bus, eventbus.TopicTransactionNew, 256)
	defer sub.Unsubscribe()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case tx, ok := <-sub.C:
			if !ok {
				return ErrEngineClosed
			}
			e.Observe(tx)
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Observe settles the Submitted payment whose hash matches a validated
// transaction.
func (e *Engine) Observe(tx *types.NormalizedTransaction) {
	if tx == nil || !tx.Validated {
		return
	}
	rec := e.byTxHash(tx.Hash)
	if rec == nil {
		return
	}
	e.settle(rec, tx.Result, tx.LedgerIndex, tx.DeliveredAmount)
}

func (e *Engine) byTxHash(hash string) *record {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byHash[hash]
	if !ok {
		return nil
	}
	return e.active[id]
}

// settle applies a validated result: tesSUCCESS confirms, anything else
// fails with the code kept verbatim.
func (e *Engine) settle(rec *record, result string, ledgerIndex uint32, delivered *types.Amount) (Payment, bool) {
	set := func(p *Payment) {
		p.Result = result
		p.LedgerIndex = ledgerIndex
		if delivered != nil {
			d := *delivered
			p.DeliveredAmount = &d
		}
	}
	if result == types.TesSUCCESS {
		return e.transition(rec, StateConfirmed, "", set)
	}
	f := &Failure{Kind: FailureRejection, Code: result}
	return e.transition(rec, StateFailed, f.Reason(), set)
}

// Status returns the payment's current state. A Submitted payment is first
// re-checked against the transaction cache and then the gateway, and moves to
// TimedOut once the confirmation timeout has passed.
func (e *Engine) Status(ctx context.Context, id string) (Payment, error) {
	rec, p, err := e.find(id)
	if err != nil {
		return Payment{}, err
	}
	if rec == nil || p.State != StateSubmitted {
		return p, nil
	}
	e.recheck(ctx, rec)
	e.expire(rec)
	return e.snapshot(rec), nil
}

// find resolves id against the active set, the history view and the archive.
func (e *Engine) find(id string) (*record, Payment, error) {
	e.mu.Lock()
	if rec, ok := e.active[id]; ok {
		p := rec.p.clone()
		e.mu.Unlock()
		return rec, p, nil
	}
	v, ok := e.history.Get(id)
	e.mu.Unlock()
	if ok {
		return nil, v.(Payment).clone(), nil
	}
	if e.archive != nil {
		p, err := e.archive.Get(id)
		if err == nil {
			return nil, p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, Payment{}, err
		}
	}
	return nil, Payment{}, ErrPaymentNotFound
}

func (e *Engine) recheck(ctx context.Context, rec *record) {
	p := e.snapshot(rec)
	if p.State != StateSubmitted {
		return
	}
	if e.lookup != nil {
		if tx, ok := e.lookup.Get(p.Hash); ok && tx.Validated {
			e.settle(rec, tx.Result, tx.LedgerIndex, tx.DeliveredAmount)
			return
		}
	}
	st, err := e.gw.TransactionByHash(ctx, p.Hash)
	if err != nil {
		if !errors.Is(err, gateway.ErrTxNotFound) {
			e.log.WithError(err).WithField("payment_id", p.ID).Debug("Confirmation lookup failed")
		}
		return
	}
	if st.Validated {
		e.settle(rec, st.Result, st.LedgerIndex, st.DeliveredAmount)
	}
}

// expire times out rec when it has waited past the confirmation timeout.
func (e *Engine) expire(rec *record) bool {
	p := e.snapshot(rec)
	if p.State != StateSubmitted || e.since(p.SubmittedAt) < e.cfg.ConfirmationTimeout {
		return false
	}
	return e.timeOut(rec)
}

func (e *Engine) timeOut(rec *record) bool {
	f := &Failure{Kind: FailureTimeout, Err: errors.New("no validated result within confirmation window")}
	_, ok := e.transition(rec, StateTimedOut, f.Reason(), nil)
	return ok
}

// Sweep re-checks overdue Submitted payments and times out those still
// unresolved. Payments stuck before Submitted are retired once the
// idempotency window, the only way to resume them, has passed. It returns
// how many payments it moved to a terminal state.
func (e *Engine) Sweep(ctx context.Context) int {
	e.mu.Lock()
	var overdue, stale []*record
	for _, rec := range e.active {
		switch rec.p.State {
		case StateSubmitted:
			if e.since(rec.p.SubmittedAt) >= e.cfg.ConfirmationTimeout {
				overdue = append(overdue, rec)
			}
		case StateCreated, StateValidated:
			if e.since(rec.p.UpdatedAt) >= e.cfg.IdempotencyTTL {
				stale = append(stale, rec)
			}
		}
	}
	e.mu.Unlock()

	n := 0
	for _, rec := range overdue {
		e.recheck(ctx, rec)
		if e.expire(rec) {
			n++
		}
	}
	for _, rec := range stale {
		if e.retire(ctx, rec) {
			n++
		}
	}
	return n
}

// retire ends a payment that never got a submit reply. An unsigned payment
// fails. A signed one may still have reached the ledger, so it is looked up
// first and times out if nothing is found. Payments being driven are left
// for the next sweep.
func (e *Engine) retire(ctx context.Context, rec *record) bool {
	if !rec.run.TryLock() {
		return false
	}
	defer rec.run.Unlock()

	if p := e.snapshot(rec); p.State.rank() > StateValidated.rank() {
		return false
	}
	if rec.hash == "" {
		f := &Failure{Kind: FailureAbandoned, Err: errors.New("not submitted within the idempotency window")}
		_, ok := e.transition(rec, StateFailed, f.Reason(), nil)
		return ok
	}

	e.transition(rec, StateSubmitted, "", func(p *Payment) {
		p.Hash = rec.hash
		p.SubmittedAt = e.clock.Now()
	})
	e.recheck(ctx, rec)
	if e.snapshot(rec).State == StateSubmitted {
		e.timeOut(rec)
	}
	return e.snapshot(rec).State.Terminal()
}

// Await blocks until the payment reaches a terminal state, timeout elapses
// or ctx is done. On timeout a final lazy check runs; a payment still
// Submitted then moves to TimedOut. A payment that never reached Submitted
// is returned with ErrAwaitTimeout.
func (e *Engine) Await(ctx context.Context, id string, timeout time.Duration) (Payment, error) {
	confirmed := eventbus.Subscribe(e.bus, TopicConfirmed, 16)
	defer confirmed.Unsubscribe()
	failed := eventbus.Subscribe(e.bus, TopicFailed, 16)
	defer failed.Unsubscribe()
	timedOut := eventbus.Subscribe(e.bus, TopicTimedOut, 16)
	defer timedOut.Unsubscribe()

	p, err := e.Status(ctx, id)
	if err != nil || p.State.Terminal() {
		return p, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		var ev Payment
		var ok bool
		select {
		case ev, ok = <-confirmed.C:
		case ev, ok = <-failed.C:
		case ev, ok = <-timedOut.C:
		case <-timer.C:
			return e.finishAwait(ctx, id)
		case <-ctx.Done():
			p, _ := e.Status(context.Background(), id)
			return p, ctx.Err()
		}
		if !ok {
			p, _ := e.Status(ctx, id)
			return p, ErrEngineClosed
		}
		if ev.ID == id {
			return ev, nil
		}
	}
}

func (e *Engine) finishAwait(ctx context.Context, id string) (Payment, error) {
	rec, p, err := e.find(id)
	if err != nil || rec == nil {
		return p, err
	}
	e.recheck(ctx, rec)
	if p = e.snapshot(rec); p.State == StateSubmitted {
		e.timeOut(rec)
		p = e.snapshot(rec)
	}
	if p.State.Terminal() {
		return p, nil
	}
	return p, ErrAwaitTimeout
}
