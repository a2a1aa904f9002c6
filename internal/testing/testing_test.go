package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountsAreValid(t *testing.T) {
	for _, addr := range []string{Master, Alice, Bob, Carol, Dave, Eve, Gateway} {
		assert.True(t, types.IsValidAddress(addr), addr)
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock()
	start := c.Now()
	c.Advance(time.Minute)
	assert.Equal(t, time.Minute, c.Since(start))

	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(at)
	assert.Equal(t, at, c.Now())
	assert.Equal(t, uint32(946771200), c.RippleTime())
}

func TestEnvBalancesAndLines(t *testing.T) {
	env := NewTestEnv(t)
	ctx := context.Background()

	env.Fund(Alice, XRP(100))
	env.SetOwnerCount(Alice, 2)
	env.SetTrustLine(Alice, Gateway, "abc", "25")

	bal, err := env.AccountBalance(ctx, Alice)
	require.NoError(t, err)
	assert.Equal(t, XRP(100), bal.Balance)
	assert.Equal(t, uint32(2), bal.OwnerCount)

	_, err = env.AccountBalance(ctx, Bob)
	assert.ErrorIs(t, err, gateway.ErrAccountNotFound)

	line, err := env.TrustLineBalance(ctx, Alice, "ABC", Gateway)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(line))

	_, err = env.TrustLineBalance(ctx, Bob, "ABC", Gateway)
	assert.ErrorIs(t, err, types.ErrTrustLineNotFound)
}

func TestEnvFailNextIsOneShot(t *testing.T) {
	env := NewTestEnv(t)
	boom := errors.New("boom")
	env.FailNext(MethodFeeSchedule, boom)

	_, err := env.FeeSchedule(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = env.FeeSchedule(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, env.Calls(MethodFeeSchedule))
}

func TestEnvSubmitAndClose(t *testing.T) {
	env := NewTestEnv(t)
	ctx := context.Background()
	env.Fund(Alice, XRP(100))
	require.NoError(t, env.Subscribe(ctx, Bob))

	tx := map[string]interface{}{
		"TransactionType": "Payment",
		"Account":         Alice,
		"Destination":     Bob,
		"Amount":          "1000000",
		"Fee":             "12",
		"Sequence":        1,
	}
	signed, err := env.Signer().Sign(ctx, tx)
	require.NoError(t, err)

	res, err := env.Submit(ctx, signed.Blob)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash, res.Hash)
	assert.Equal(t, types.TesSUCCESS, res.EngineResult)
	assert.Equal(t, []string{signed.Hash}, env.Pending())

	st, err := env.TransactionByHash(ctx, signed.Hash)
	require.NoError(t, err)
	assert.False(t, st.Validated)

	again, err := env.Submit(ctx, signed.Blob)
	require.NoError(t, err)
	assert.Equal(t, types.TefALREADY, again.EngineResult)

	assert.Equal(t, []string{signed.Hash}, env.Close())
	assert.Equal(t, XRP(100)-XRP(1)-12, env.Balance(Alice))
	assert.Equal(t, XRP(1), env.Balance(Bob))
	assert.Equal(t, uint32(2), env.Seq(Alice))
	assert.Equal(t, uint32(1001), env.LedgerSeq())

	replay, err := env.Submit(ctx, signed.Blob)
	require.NoError(t, err)
	assert.Equal(t, types.TefPAST_SEQ, replay.EngineResult)
	assert.Empty(t, env.Pending())

	st, err = env.TransactionByHash(ctx, signed.Hash)
	require.NoError(t, err)
	assert.True(t, st.Validated)
	assert.Equal(t, uint32(1001), st.LedgerIndex)

	select {
	case msg := <-env.Events():
		require.NotNil(t, msg.Transaction)
		assert.Equal(t, signed.Hash, msg.Transaction.TxHash())
		assert.Equal(t, types.TesSUCCESS, msg.Transaction.Result())
	default:
		t.Fatal("validated payment was not streamed to the subscribed destination")
	}
}

func TestEnvOutcomeAndRejection(t *testing.T) {
	env := NewTestEnv(t)
	ctx := context.Background()
	env.Fund(Alice, XRP(100))

	sign := func(seq int) string {
		s, err := env.Signer().Sign(ctx, map[string]interface{}{
			"TransactionType": "Payment", "Account": Alice, "Destination": Bob,
			"Amount": "5", "Fee": "10", "Sequence": seq,
		})
		require.NoError(t, err)
		return s.Blob
	}

	env.NextPrelim(types.TemBAD_AMOUNT)
	res, err := env.Submit(ctx, sign(1))
	require.NoError(t, err)
	assert.Equal(t, types.TemBAD_AMOUNT, res.EngineResult)
	assert.Empty(t, env.Pending(), "final rejections never reach a ledger")

	env.NextOutcome(types.TecPATH_DRY)
	res, err = env.Submit(ctx, sign(2))
	require.NoError(t, err)
	env.Close()

	st, err := env.TransactionByHash(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, types.TecPATH_DRY, st.Result)
	assert.Equal(t, XRP(100)-10, env.Balance(Alice), "claimed fee only")
}

func TestEnvLatencyHonorsContext(t *testing.T) {
	env := NewTestEnv(t)
	env.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := env.Subscribe(ctx, Alice)
	assert.True(t, gateway.IsNetwork(err))
}

func TestEnvDropStream(t *testing.T) {
	env := NewTestEnv(t)
	old := env.Events()

	env.DropStream()
	_, ok := <-old
	assert.False(t, ok, "old channel is closed")

	env.EmitPayment("NEW", Alice, Bob, Native(5))
	msg := <-env.Events()
	require.NotNil(t, msg.Transaction)
	assert.Equal(t, "NEW", msg.Transaction.Hash)
}
