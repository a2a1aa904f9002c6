// Package testing provides test infrastructure for the monitor and the
// payment engine.
//
// # Overview
//
// The testing package provides:
//   - TestEnv: an in-memory ledger that implements gateway.Gateway
//   - FakeSigner: a signer whose blobs TestEnv can decode
//   - ManualClock: a controllable time source
//   - Account constants and amount helpers
//
// # Basic Usage
//
//	func TestPayment(t *testing.T) {
//	    env := xtesting.NewTestEnv(t)
//	    env.Fund(xtesting.Alice, xtesting.XRP(100))
//
//	    engine := payment.NewEngine(env, signer.NewRegistry(env.Signer()), ...)
//	    p, err := engine.Submit(ctx, req)
//	    require.NoError(t, err)
//
//	    env.Close() // validates everything submitted so far
//	}
//
// # TestEnv
//
// TestEnv keeps balances, owner counts, trust lines and the fee schedule in
// memory. Submitted transactions stay pending until Close, which applies
// them, assigns the next ledger index and streams the validated messages to
// Events for subscribed accounts.
//
//	env.Fund(alice, xtesting.XRP(50))
//	env.SetTrustLine(alice, gateway, "USD", "25")
//	env.SetFees(XRPAmount.NewFees(10, xtesting.XRP(10), xtesting.XRP(2)))
//	env.NextOutcome(types.TecPATH_DRY) // result of the next validated tx
//	env.FailNext(xtesting.MethodSubmit, err)
//	env.Close()
//
// # Clock Control
//
//	clock := xtesting.NewManualClock()
//	clock.Advance(10 * time.Second)
//	clock.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
package testing
