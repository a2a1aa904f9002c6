package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/eventbus"
	"github.com/LeJamon/xrplwatch/internal/gateway"
	"github.com/LeJamon/xrplwatch/internal/monitor"
	"github.com/LeJamon/xrplwatch/internal/signer"
	xtesting "github.com/LeJamon/xrplwatch/internal/testing"
	"github.com/LeJamon/xrplwatch/internal/txcache"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	env    *xtesting.TestEnv
	bus    *eventbus.Bus
	cache  *txcache.Cache
	engine *Engine
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	logger := quietLogger()
	env := xtesting.NewTestEnv(t)
	bus := eventbus.New(logger, nil)
	cache, err := txcache.New(txcache.Config{MaxEntries: 100, MaxAge: time.Hour, CleanupInterval: time.Minute}, env.Clock(), logger, nil)
	require.NoError(t, err)

	opts = append([]Option{WithClock(env.Clock()), WithLookup(cache)}, opts...)
	engine, err := NewEngine(env, signer.NewRegistry(env.Signer()), bus, DefaultConfig(), logger, nil, opts...)
	require.NoError(t, err)
	return &harness{env: env, bus: bus, cache: cache, engine: engine}
}

func nativeRequest(drops XRPAmount.XRPAmount) Request {
	return Request{
		WalletType:  signer.WalletSeed,
		Source:      xtesting.Alice,
		Destination: xtesting.Bob,
		Amount:      xtesting.Native(drops),
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestSubmitRejectsMalformedRequests(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{name: "bad destination", mutate: func(r *Request) { r.Destination = "rAddr1" }, want: types.ErrInvalidAddress},
		{name: "bad source", mutate: func(r *Request) { r.Source = "" }, want: types.ErrInvalidAddress},
		{name: "self payment", mutate: func(r *Request) { r.Destination = r.Source }, want: types.ErrInvalidAddress},
		{name: "zero amount", mutate: func(r *Request) { r.Amount = xtesting.Native(0) }, want: types.ErrInvalidAmount},
		{name: "above maximum", mutate: func(r *Request) { r.Amount = xtesting.Native(xtesting.XRP(100_001)) }, want: types.ErrInvalidAmount},
		{name: "token with XRP code", mutate: func(r *Request) { r.Amount = xtesting.Token("XRP", xtesting.Gateway, "1") }, want: types.ErrInvalidCurrency},
		{name: "token with bad issuer", mutate: func(r *Request) { r.Amount = xtesting.Token("ABC", "rAddr1", "1") }, want: types.ErrInvalidAddress},
		{name: "negative token value", mutate: func(r *Request) { r.Amount = xtesting.Token("ABC", xtesting.Gateway, "-1") }, want: types.ErrInvalidAmount},
		{name: "unregistered wallet", mutate: func(r *Request) { r.WalletType = signer.WalletXumm }, want: signer.ErrUnknownWallet},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := nativeRequest(xtesting.XRP(1))
			tc.mutate(&req)
			p, err := h.engine.Submit(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, p.ID, "no payment is created")
		})
	}
	assert.Empty(t, h.engine.Active())
	assert.Equal(t, 0, h.env.Calls(xtesting.MethodFeeSchedule))
}

func TestSubmitNativeInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	// 10 XRP reserve leaves 4,000,000 drops spendable.
	h.env.Fund(xtesting.Alice, 14_000_000)

	p, err := h.engine.Submit(context.Background(), nativeRequest(5_000_000))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "InsufficientBalance", ve.Kind())

	assert.Equal(t, StateFailed, p.State)
	assert.Empty(t, p.Hash)
	assert.Equal(t, 0, h.env.Signer().Calls(), "signer never contacted")
	assert.Equal(t, 0, h.env.Calls(xtesting.MethodSubmit))
}

func TestSubmitReserveCountsOwnerObjects(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(15))
	h.env.SetOwnerCount(xtesting.Alice, 2)

	// 15 - (10 + 2*2) = 1 XRP spendable, not enough for 1 XRP plus fee.
	_, err := h.engine.Submit(context.Background(), nativeRequest(xtesting.XRP(1)))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	p, err := h.engine.Submit(context.Background(), nativeRequest(xtesting.XRP(1)-12))
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, p.State)
}

func TestSubmitUnfundedSource(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Submit(context.Background(), nativeRequest(xtesting.XRP(1)))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
}

func TestSubmitTokenChecks(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *xtesting.TestEnv)
		value string
		want  error
	}{
		{name: "no trust line", value: "10", want: types.ErrTrustLineNotFound},
		{
			name:  "short trust line",
			setup: func(env *xtesting.TestEnv) { env.SetTrustLine(xtesting.Alice, xtesting.Gateway, "ABC", "5") },
			value: "10",
			want:  types.ErrInsufficientBalance,
		},
		{
			name:  "line to another issuer",
			setup: func(env *xtesting.TestEnv) { env.SetTrustLine(xtesting.Alice, xtesting.Carol, "ABC", "50") },
			value: "10",
			want:  types.ErrTrustLineNotFound,
		},
		{
			name:  "covered",
			setup: func(env *xtesting.TestEnv) { env.SetTrustLine(xtesting.Alice, xtesting.Gateway, "ABC", "10") },
			value: "10",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.env.Fund(xtesting.Alice, xtesting.XRP(20))
			if tc.setup != nil {
				tc.setup(h.env)
			}
			req := nativeRequest(0)
			req.Amount = xtesting.Token("ABC", xtesting.Gateway, tc.value)

			p, err := h.engine.Submit(context.Background(), req)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				assert.Equal(t, StateFailed, p.State)
				assert.Equal(t, 0, h.env.Signer().Calls())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StateSubmitted, p.State)
			assert.Equal(t, KindToken, p.Kind)
		})
	}
}

func TestSubmitTokenNeedsNativeFee(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(10))
	h.env.SetTrustLine(xtesting.Alice, xtesting.Gateway, "ABC", "100")

	req := nativeRequest(0)
	req.Amount = xtesting.Token("ABC", xtesting.Gateway, "1")
	_, err := h.engine.Submit(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
}

func TestIssuerSendsOwnTokenWithoutLine(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Gateway, xtesting.XRP(20))

	p, err := h.engine.Submit(context.Background(), Request{
		WalletType:  signer.WalletSeed,
		Source:      xtesting.Gateway,
		Destination: xtesting.Bob,
		Amount:      xtesting.Token("ABC", xtesting.Gateway, "1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, p.State)
	assert.Equal(t, 0, h.env.Calls(xtesting.MethodTrustLineBalance))
}

// =============================================================================
// Submission
// =============================================================================

func TestSubmitBuildsSignsAndSubmits(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))

	tag := uint32(99)
	req := nativeRequest(xtesting.XRP(1))
	req.DestinationTag = &tag
	req.Memos = []types.Memo{{Data: "invoice #42", Type: "text/plain"}}

	p, err := h.engine.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, ValidID(p.ID))
	assert.Equal(t, StateSubmitted, p.State)
	assert.Equal(t, XRPAmount.XRPAmount(12), p.Fee, "base fee 10 x 1.2")
	assert.Equal(t, uint32(1020), p.LastLedgerSequence)
	assert.Equal(t, types.TesSUCCESS, p.Result)
	assert.Equal(t, []string{p.Hash}, h.env.Pending())

	tx := h.env.Signer().Last()
	require.NotNil(t, tx)
	assert.Equal(t, "Payment", tx["TransactionType"])
	assert.Equal(t, "1000000", tx["Amount"])
	assert.Equal(t, "12", tx["Fee"])
	assert.Equal(t, uint32(1), tx["Sequence"])
	assert.Equal(t, uint32(99), tx["DestinationTag"])
	assert.Equal(t, uint32(1020), tx["LastLedgerSequence"])
	memos, ok := tx["Memos"].([]interface{})
	require.True(t, ok)
	assert.Len(t, memos, 1)
}

func TestSubmitPreliminaryRejectionFails(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	h.env.NextPrelim(types.TelINSUF_FEE_P)

	p, err := h.engine.Submit(context.Background(), nativeRequest(xtesting.XRP(1)))
	require.Error(t, err)
	code, ok := IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, types.TelINSUF_FEE_P, code)
	assert.Equal(t, StateFailed, p.State)
	assert.Equal(t, types.TelINSUF_FEE_P, p.Reason)
	assert.NotEmpty(t, p.Hash, "rejected payments keep the signed hash")
}

func TestSubmitSignerFailure(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	h.env.Signer().FailWith(signer.ErrUserRejected)

	p, err := h.engine.Submit(context.Background(), nativeRequest(xtesting.XRP(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, signer.ErrUserRejected)

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, FailureSigner, f.Kind)
	assert.Equal(t, StateFailed, p.State)
	assert.Contains(t, p.Reason, signer.ErrUserRejected.Error())
	assert.Equal(t, 0, h.env.Calls(xtesting.MethodSubmit))
}

func TestNetworkErrorLeavesStateAndRetryResumes(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	req := nativeRequest(xtesting.XRP(1))
	req.IdempotencyKey = "order-1"

	h.env.FailNext(xtesting.MethodAccountBalance, gateway.ErrNetwork)
	first, err := h.engine.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, gateway.IsNetwork(err))
	assert.Equal(t, StateCreated, first.State)

	h.env.FailNext(xtesting.MethodSubmit, gateway.ErrNetwork)
	second, err := h.engine.Submit(context.Background(), req)
	assert.True(t, gateway.IsNetwork(err))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, StateValidated, second.State)

	third, err := h.engine.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, StateSubmitted, third.State)
	assert.Equal(t, 1, h.env.Signer().Calls(), "signed blob is reused")

	fourth, err := h.engine.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, third, fourth, "later states are returned unchanged")
	assert.Equal(t, 2, h.env.Calls(xtesting.MethodSubmit))
}

// lostReplyGateway applies the first submit to the ledger and then reports a
// network error, as when the connection drops before the reply arrives.
type lostReplyGateway struct {
	*xtesting.TestEnv

	mu   sync.Mutex
	lost bool
}

func (g *lostReplyGateway) Submit(ctx context.Context, blob string) (gateway.SubmitResult, error) {
	g.mu.Lock()
	drop := !g.lost
	g.lost = true
	g.mu.Unlock()

	res, err := g.TestEnv.Submit(ctx, blob)
	if err != nil || !drop {
		return res, err
	}
	return gateway.SubmitResult{}, fmt.Errorf("%w: submit: connection reset", gateway.ErrNetwork)
}

func newLostReplyEngine(t *testing.T) (*xtesting.TestEnv, *Engine) {
	t.Helper()
	logger := quietLogger()
	env := xtesting.NewTestEnv(t)
	engine, err := NewEngine(&lostReplyGateway{TestEnv: env}, signer.NewRegistry(env.Signer()), eventbus.New(logger, nil),
		DefaultConfig(), logger, nil, WithClock(env.Clock()))
	require.NoError(t, err)
	env.Fund(xtesting.Alice, xtesting.XRP(100))
	return env, engine
}

func TestRetryAfterLostReplyConfirms(t *testing.T) {
	env, engine := newLostReplyEngine(t)
	ctx := context.Background()
	req := nativeRequest(xtesting.XRP(1))
	req.IdempotencyKey = "order-lost"

	first, err := engine.Submit(ctx, req)
	require.Error(t, err)
	assert.True(t, gateway.IsNetwork(err))
	assert.Equal(t, StateValidated, first.State)
	require.Len(t, env.Pending(), 1, "ledger holds the transaction")
	env.Close()

	second, err := engine.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, StateConfirmed, second.State)
	assert.Equal(t, types.TesSUCCESS, second.Result)
	assert.Equal(t, uint32(1001), second.LedgerIndex)
	assert.NotEmpty(t, second.Hash)
	assert.Equal(t, xtesting.XRP(1), env.Balance(xtesting.Bob))
	assert.Equal(t, 1, env.Signer().Calls())
	assert.Empty(t, engine.Active())
}

func TestRetryAfterLostReplyBeforeClose(t *testing.T) {
	env, engine := newLostReplyEngine(t)
	ctx := context.Background()
	req := nativeRequest(xtesting.XRP(1))
	req.IdempotencyKey = "order-pending"

	_, err := engine.Submit(ctx, req)
	require.True(t, gateway.IsNetwork(err))

	p, err := engine.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, p.State)
	assert.Equal(t, types.TefALREADY, p.Result)

	env.Close()
	st, err := engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, st.State)
}

func TestResumedTefWithoutLedgerEntryAwaitsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()
	req := nativeRequest(xtesting.XRP(1))
	req.IdempotencyKey = "order-tef"

	h.env.FailNext(xtesting.MethodSubmit, gateway.ErrNetwork)
	_, err := h.engine.Submit(ctx, req)
	require.True(t, gateway.IsNetwork(err))

	h.env.NextPrelim(types.TefMAX_LEDGER)
	p, err := h.engine.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, p.State)
	assert.Equal(t, types.TefMAX_LEDGER, p.Result)
	assert.NotEmpty(t, p.Hash)

	h.env.AdvanceTime(DefaultConfig().ConfirmationTimeout)
	assert.Equal(t, 1, h.engine.Sweep(ctx))
	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, st.State)
}

func TestConcurrentSubmitsWithSameKeyCreateOnePayment(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	req := nativeRequest(xtesting.XRP(1))
	req.IdempotencyKey = "order-2"

	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := h.engine.Submit(context.Background(), req)
			assert.NoError(t, err)
			ids <- p.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, h.env.Signer().Calls())
	assert.Len(t, h.env.Pending(), 1)
}

// =============================================================================
// Confirmation
// =============================================================================

func TestStatusLazilyConfirms(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)

	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, st.State)

	h.env.Close()
	st, err = h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, st.State)
	assert.Equal(t, uint32(1001), st.LedgerIndex)
	require.NotNil(t, st.DeliveredAmount)
	assert.Equal(t, xtesting.XRP(1), st.DeliveredAmount.Drops)
	assert.Empty(t, h.engine.Active())
}

func TestOnLedgerFailureKeepsResultCode(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)
	require.Equal(t, StateSubmitted, p.State)

	h.env.NextOutcome(types.TecNO_DST_INSUF_XRP)
	h.env.Close()

	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, types.TecNO_DST_INSUF_XRP, st.Result)
	assert.Equal(t, types.TecNO_DST_INSUF_XRP, st.Reason)
}

func TestStatusUsesCacheFirst(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)

	h.cache.Insert(&types.NormalizedTransaction{
		Hash: p.Hash, Type: types.TxPayment, Account: xtesting.Alice,
		Result: types.TecPATH_DRY, Validated: true, LedgerIndex: 1005,
	})
	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, uint32(1005), st.LedgerIndex)
	assert.Equal(t, 0, h.env.Calls(xtesting.MethodTransaction))
}

func TestStateNeverRegresses(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)

	h.engine.Observe(&types.NormalizedTransaction{Hash: p.Hash, Result: types.TesSUCCESS, Validated: true, LedgerIndex: 1001})
	h.engine.Observe(&types.NormalizedTransaction{Hash: p.Hash, Result: types.TecPATH_DRY, Validated: true, LedgerIndex: 1002})
	h.engine.Observe(&types.NormalizedTransaction{Hash: "OTHER", Result: types.TecPATH_DRY, Validated: true})

	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, st.State)
	assert.Equal(t, uint32(1001), st.LedgerIndex)
}

func TestUnvalidatedObservationIgnored(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))

	p, err := h.engine.Submit(context.Background(), nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)
	h.engine.Observe(&types.NormalizedTransaction{Hash: p.Hash, Result: types.TesSUCCESS})
	assert.Len(t, h.engine.Active(), 1)
}

func TestStatusTimesOutAfterConfirmationWindow(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)

	h.env.AdvanceTime(11 * time.Second)
	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, st.State)

	h.env.AdvanceTime(time.Second)
	st, err = h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, st.State)

	// A late validation does not revive it.
	h.env.Close()
	st, err = h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, st.State)
}

func TestSweepTimesOutOverduePayments(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()
	timedOut := eventbus.Subscribe(h.bus, TopicTimedOut, 4)
	defer timedOut.Unsubscribe()

	stale, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)
	h.env.AdvanceTime(20 * time.Second)
	fresh, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(2)))
	require.NoError(t, err)

	assert.Equal(t, 1, h.engine.Sweep(ctx))

	select {
	case ev := <-timedOut.C:
		assert.Equal(t, stale.ID, ev.ID)
	default:
		t.Fatal("payment.timed_out not published")
	}
	st, err := h.engine.Status(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, st.State)
}

func TestSweepConfirmsBeforeTimingOut(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)
	h.env.Close()
	h.env.AdvanceTime(time.Minute)

	assert.Equal(t, 0, h.engine.Sweep(ctx))
	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, st.State)
}

func TestSweepRetiresStalePayments(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()
	failed := eventbus.Subscribe(h.bus, TopicFailed, 4)
	defer failed.Unsubscribe()

	var signed []Payment
	for i := 1; i <= 3; i++ {
		h.env.FailNext(xtesting.MethodSubmit, gateway.ErrNetwork)
		p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(int64(i))))
		require.True(t, gateway.IsNetwork(err))
		require.Equal(t, StateValidated, p.State)
		signed = append(signed, p)
	}
	h.env.FailNext(xtesting.MethodAccountBalance, gateway.ErrNetwork)
	unsigned, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(4)))
	require.True(t, gateway.IsNetwork(err))
	require.Equal(t, StateCreated, unsigned.State)
	require.Len(t, h.engine.Active(), 4)

	h.env.AdvanceTime(DefaultConfig().IdempotencyTTL - time.Minute)
	assert.Equal(t, 0, h.engine.Sweep(ctx))
	assert.Len(t, h.engine.Active(), 4)

	h.env.AdvanceTime(time.Minute)
	fresh, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(5)))
	require.NoError(t, err)
	assert.Equal(t, 4, h.engine.Sweep(ctx))

	active := h.engine.Active()
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)

	for _, p := range signed {
		st, err := h.engine.Status(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StateTimedOut, st.State)
		assert.NotEmpty(t, st.Hash, "signed hash is kept for later lookup")
	}
	st, err := h.engine.Status(ctx, unsigned.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Reason, "idempotency window")

	select {
	case ev := <-failed.C:
		assert.Equal(t, unsigned.ID, ev.ID)
	default:
		t.Fatal("payment.failed not published")
	}
}

func TestSweepSettlesStalePaymentFoundOnLedger(t *testing.T) {
	env, engine := newLostReplyEngine(t)
	ctx := context.Background()

	p, err := engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.True(t, gateway.IsNetwork(err))
	env.Close()

	env.AdvanceTime(DefaultConfig().IdempotencyTTL)
	assert.Equal(t, 1, engine.Sweep(ctx))

	st, err := engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, st.State)
	assert.Empty(t, engine.Active())
}

func TestAwaitThroughStream(t *testing.T) {
	logger := quietLogger()
	env := xtesting.NewTestEnv(t)
	bus := eventbus.New(logger, nil)
	cache, err := txcache.New(txcache.Config{MaxEntries: 100, MaxAge: time.Hour, CleanupInterval: time.Minute}, env.Clock(), logger, nil)
	require.NoError(t, err)
	mon := monitor.New(env, cache, bus, logger, nil)
	defer mon.Close()

	engine, err := NewEngine(env, signer.NewRegistry(env.Signer()), bus, DefaultConfig(), logger, nil,
		WithClock(env.Clock()), WithLookup(cache), WithWatcher(mon))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = engine.Run(ctx) }()

	env.Fund(xtesting.Alice, xtesting.XRP(100))
	p, err := engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)
	assert.True(t, mon.IsWatched(xtesting.Alice), "source account is watched")

	done := make(chan Payment, 1)
	go func() {
		got, err := engine.Await(ctx, p.ID, 2*time.Second)
		assert.NoError(t, err)
		done <- got
	}()

	env.Close()

	select {
	case got := <-done:
		assert.Equal(t, StateConfirmed, got.State)
		assert.Equal(t, p.Hash, got.Hash)
	case <-time.After(4 * time.Second):
		t.Fatal("Await did not return")
	}

	assert.Eventually(t, func() bool {
		_, ok := cache.Get(p.Hash)
		return ok
	}, time.Second, 10*time.Millisecond, "monitor cached the validated payment")
	assert.Eventually(t, func() bool { return !mon.IsWatched(xtesting.Alice) }, time.Second, 10*time.Millisecond,
		"source released after its payment settled")
}

func newMonitoredHarness(t *testing.T) (*harness, *monitor.Monitor) {
	t.Helper()
	h := newHarness(t)
	mon := monitor.New(h.env, h.cache, h.bus, quietLogger(), nil)
	t.Cleanup(mon.Close)
	WithWatcher(mon)(h.engine)
	return h, mon
}

func TestEngineReleasesSourceItWatched(t *testing.T) {
	h, mon := newMonitoredHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	first, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)
	assert.True(t, mon.IsWatched(xtesting.Alice))
	h.env.Close()

	second, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(2)))
	require.NoError(t, err)
	assert.Equal(t, 1, h.env.Subscriptions(xtesting.Alice))

	st, err := h.engine.Status(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, st.State)
	assert.True(t, mon.IsWatched(xtesting.Alice), "still held for the second payment")

	h.env.Close()
	st, err = h.engine.Status(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, st.State)
	assert.False(t, mon.IsWatched(xtesting.Alice))
	assert.Equal(t, 0, h.env.Subscriptions(xtesting.Alice))

	// A rejected payment releases the source too.
	h.env.NextPrelim(types.TemBAD_AMOUNT)
	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(3)))
	require.Error(t, err)
	assert.Equal(t, StateFailed, p.State)
	assert.False(t, mon.IsWatched(xtesting.Alice))
	assert.Equal(t, 2, h.env.Calls(xtesting.MethodUnsubscribe))
}

func TestEngineKeepsSourceWatchedElsewhere(t *testing.T) {
	h, mon := newMonitoredHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()
	require.NoError(t, mon.Subscribe(ctx, xtesting.Alice))

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)
	h.env.Close()

	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, st.State)
	assert.True(t, mon.IsWatched(xtesting.Alice))
	assert.Equal(t, 0, h.env.Calls(xtesting.MethodUnsubscribe))
	assert.Equal(t, 1, h.env.Calls(xtesting.MethodSubscribe))
}

func TestAwaitTimesOutSubmittedPayment(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)

	got, err := h.engine.Await(ctx, p.ID, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, got.State)
}

func TestAwaitReturnsTerminalImmediately(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	h.env.NextPrelim(types.TemBAD_AMOUNT)
	ctx := context.Background()

	p, _ := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	got, err := h.engine.Await(ctx, p.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
}

func TestAwaitHonorsContext(t *testing.T) {
	h := newHarness(t)
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))

	h.env.FailNext(xtesting.MethodSubmit, gateway.ErrNetwork)
	p, _ := h.engine.Submit(context.Background(), nativeRequest(xtesting.XRP(1)))
	require.Equal(t, StateValidated, p.State)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	got, err := h.engine.Await(ctx, p.ID, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateValidated, got.State)
}

// =============================================================================
// History and archive
// =============================================================================

type memArchive struct {
	mu   sync.Mutex
	rows map[string]Payment
}

func (a *memArchive) Put(p Payment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows[p.ID] = p
	return nil
}

func (a *memArchive) Get(id string) (Payment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.rows[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func TestStatusFallsBackToArchive(t *testing.T) {
	archive := &memArchive{rows: map[string]Payment{}}
	h := newHarness(t, WithArchive(archive))
	h.env.Fund(xtesting.Alice, xtesting.XRP(100))
	ctx := context.Background()

	p, err := h.engine.Submit(ctx, nativeRequest(xtesting.XRP(1)))
	require.NoError(t, err)
	h.env.Close()
	confirmed, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, confirmed.State)

	h.engine.history.Flush()

	st, err := h.engine.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, confirmed, st)
}

func TestStatusUnknownPayment(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Status(context.Background(), NewID())
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
