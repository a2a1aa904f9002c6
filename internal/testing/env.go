package testing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/gateway"
	"github.com/LeJamon/xrplwatch/internal/signer"
	"github.com/shopspring/decimal"
)

// Gateway method names, for FailNext and Calls.
const (
	MethodSubscribe        = "subscribe"
	MethodUnsubscribe      = "unsubscribe"
	MethodSubmit           = "submit"
	MethodAccountBalance   = "account_info"
	MethodTrustLineBalance = "account_lines"
	MethodFeeSchedule      = "server_state"
	MethodTransaction      = "tx"
)

type accountRoot struct {
	balance    XRPAmount.XRPAmount
	ownerCount uint32
	sequence   uint32
}

type pendingTx struct {
	hash   string
	tx     map[string]interface{}
	prelim string
}

// TestEnv is an in-memory ledger implementing gateway.Gateway.
type TestEnv struct {
	t     *testing.T
	clock *ManualClock

	mu          sync.Mutex
	fees        XRPAmount.Fees
	ledgerIndex uint32
	accounts    map[string]*accountRoot
	lines       map[string]decimal.Decimal
	subscribed  map[string]int
	calls       map[string]int
	failures    map[string][]error
	prelims     []string
	outcomes    []string
	latency     time.Duration
	pending     []pendingTx
	validated   map[string]gateway.TxStatus

	events chan gateway.StreamMessage
	signer *FakeSigner
}

var _ gateway.Gateway = (*TestEnv)(nil)

// NewTestEnv creates an empty ledger at index 1000 with a 10 drop base fee,
// a 10 XRP base reserve and a 2 XRP owner reserve.
func NewTestEnv(t *testing.T) *TestEnv {
	e := &TestEnv{
		t:           t,
		clock:       NewManualClock(),
		fees:        XRPAmount.NewFees(10, XRP(10), XRP(2)),
		ledgerIndex: 1000,
		accounts:    make(map[string]*accountRoot),
		lines:       make(map[string]decimal.Decimal),
		subscribed:  make(map[string]int),
		calls:       make(map[string]int),
		failures:    make(map[string][]error),
		validated:   make(map[string]gateway.TxStatus),
		events:      make(chan gateway.StreamMessage, 1024),
	}
	e.signer = NewFakeSigner(signer.WalletSeed)
	return e
}

// Clock is the clock used for ledger close times.
func (e *TestEnv) Clock() *ManualClock {
	return e.clock
}

func (e *TestEnv) Now() time.Time {
	return e.clock.Now()
}

func (e *TestEnv) AdvanceTime(d time.Duration) {
	e.clock.Advance(d)
}

// Signer returns the seed-type FakeSigner bound to this ledger.
func (e *TestEnv) Signer() *FakeSigner {
	return e.signer
}

// =============================================================================
// Ledger state
// =============================================================================

// Fund creates or tops up an account root.
func (e *TestEnv) Fund(address string, drops XRPAmount.XRPAmount) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.account(address)
	acct.balance = acct.balance.Add(drops)
}

func (e *TestEnv) SetOwnerCount(address string, n uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account(address).ownerCount = n
}

// SetTrustLine sets the balance holder keeps on its line to issuer.
func (e *TestEnv) SetTrustLine(holder, issuer, currency, balance string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines[lineKey(holder, issuer, currency)] = decimal.RequireFromString(balance)
}

func (e *TestEnv) SetFees(fees XRPAmount.Fees) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees = fees
}

func (e *TestEnv) Balance(address string) XRPAmount.XRPAmount {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acct, ok := e.accounts[address]; ok {
		return acct.balance
	}
	return 0
}

func (e *TestEnv) Seq(address string) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acct, ok := e.accounts[address]; ok {
		return acct.sequence
	}
	return 0
}

func (e *TestEnv) LedgerSeq() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledgerIndex
}

func (e *TestEnv) account(address string) *accountRoot {
	acct, ok := e.accounts[address]
	if !ok {
		acct = &accountRoot{sequence: 1}
		e.accounts[address] = acct
	}
	return acct
}

func lineKey(holder, issuer, currency string) string {
	return holder + "|" + issuer + "|" + strings.ToUpper(currency)
}

// =============================================================================
// Behavior control
// =============================================================================

// FailNext makes the next call of method return err.
func (e *TestEnv) FailNext(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[method] = append(e.failures[method], err)
}

// NextPrelim sets the preliminary engine result of the next submit.
func (e *TestEnv) NextPrelim(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prelims = append(e.prelims, code)
}

// NextOutcome sets the validated result of the next transaction applied by
// Close.
func (e *TestEnv) NextOutcome(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, code)
}

// SetLatency delays every gateway call.
func (e *TestEnv) SetLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = d
}

// Calls returns how many times method was invoked.
func (e *TestEnv) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

// Subscriptions returns how many times address was registered.
func (e *TestEnv) Subscriptions(address string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribed[address]
}

// Pending returns the hashes submitted and not yet closed.
func (e *TestEnv) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.hash)
	}
	return out
}

// enter records a call and pops an injected failure. The lock is released
// while simulating latency.
func (e *TestEnv) enter(ctx context.Context, method string) error {
	e.mu.Lock()
	e.calls[method]++
	latency := e.latency
	var injected error
	if q := e.failures[method]; len(q) > 0 {
		injected, e.failures[method] = q[0], q[1:]
	}
	e.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", gateway.ErrNetwork, method, ctx.Err())
		}
	}
	return injected
}

// =============================================================================
// gateway.Gateway
// =============================================================================

func (e *TestEnv) Subscribe(ctx context.Context, address string) error {
	if err := e.enter(ctx, MethodSubscribe); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribed[address]++
	return nil
}

func (e *TestEnv) Unsubscribe(ctx context.Context, address string) error {
	if err := e.enter(ctx, MethodUnsubscribe); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscribed, address)
	return nil
}

func (e *TestEnv) Submit(ctx context.Context, txBlob string) (gateway.SubmitResult, error) {
	if err := e.enter(ctx, MethodSubmit); err != nil {
		return gateway.SubmitResult{}, err
	}
	tx, hash, err := decodeBlob(txBlob)
	if err != nil {
		return gateway.SubmitResult{}, &gateway.RPCError{Code: -1, ErrorString: "invalidTransaction", Message: err.Error()}
	}
	fee, _ := XRPAmount.ParseDrops(fmt.Sprint(tx["Fee"]))

	e.mu.Lock()
	defer e.mu.Unlock()

	prelim := types.TesSUCCESS
	if len(e.prelims) > 0 {
		prelim, e.prelims = e.prelims[0], e.prelims[1:]
	}
	for _, p := range e.pending {
		if p.hash == hash {
			prelim = types.TefALREADY
		}
	}
	if _, done := e.validated[hash]; done {
		prelim = types.TefPAST_SEQ
	}
	if !types.IsFinalRejection(prelim) && prelim != types.TefALREADY {
		e.pending = append(e.pending, pendingTx{hash: hash, tx: tx, prelim: prelim})
	}
	return gateway.SubmitResult{Hash: hash, EngineResult: prelim, Fee: fee}, nil
}

func (e *TestEnv) AccountBalance(ctx context.Context, address string) (gateway.AccountBalance, error) {
	if err := e.enter(ctx, MethodAccountBalance); err != nil {
		return gateway.AccountBalance{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acct, ok := e.accounts[address]
	if !ok {
		return gateway.AccountBalance{}, &gateway.RPCError{Code: 19, ErrorString: "actNotFound", Message: "Account not found."}
	}
	return gateway.AccountBalance{Balance: acct.balance, OwnerCount: acct.ownerCount, Sequence: acct.sequence}, nil
}

func (e *TestEnv) TrustLineBalance(ctx context.Context, address, currency, issuer string) (decimal.Decimal, error) {
	if err := e.enter(ctx, MethodTrustLineBalance); err != nil {
		return decimal.Zero, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	bal, ok := e.lines[lineKey(address, issuer, currency)]
	if !ok {
		return decimal.Zero, types.ErrTrustLineNotFound
	}
	return bal, nil
}

func (e *TestEnv) FeeSchedule(ctx context.Context) (gateway.FeeSchedule, error) {
	if err := e.enter(ctx, MethodFeeSchedule); err != nil {
		return gateway.FeeSchedule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return gateway.FeeSchedule{Fees: e.fees, LedgerIndex: e.ledgerIndex}, nil
}

func (e *TestEnv) TransactionByHash(ctx context.Context, hash string) (gateway.TxStatus, error) {
	if err := e.enter(ctx, MethodTransaction); err != nil {
		return gateway.TxStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.validated[hash]; ok {
		return st, nil
	}
	for _, p := range e.pending {
		if p.hash == hash {
			return gateway.TxStatus{Hash: hash, Result: p.prelim}, nil
		}
	}
	return gateway.TxStatus{}, &gateway.RPCError{Code: 29, ErrorString: "txnNotFound", Message: "Transaction not found."}
}

func (e *TestEnv) Events() <-chan gateway.StreamMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// DropStream closes the current event channel, as a lost websocket does, and
// installs a fresh one for later Events calls.
func (e *TestEnv) DropStream() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.events)
	e.events = make(chan gateway.StreamMessage, cap(e.events))
}

// =============================================================================
// Ledger close and streaming
// =============================================================================

// Close validates every pending transaction in submission order, advances
// the ledger index and streams the results. It returns the validated hashes.
func (e *TestEnv) Close() []string {
	e.mu.Lock()
	e.ledgerIndex++
	index := e.ledgerIndex
	pending := e.pending
	e.pending = nil

	closeTime := e.clock.RippleTime()
	var msgs []*gateway.TransactionStream
	hashes := make([]string, 0, len(pending))
	for _, p := range pending {
		result := types.TesSUCCESS
		if len(e.outcomes) > 0 {
			result, e.outcomes = e.outcomes[0], e.outcomes[1:]
		}
		delivered := e.apply(p.tx, result)

		status := gateway.TxStatus{Hash: p.hash, Validated: true, Result: result, LedgerIndex: index}
		if delivered != nil {
			amt, err := types.ParseAmount(delivered)
			if err == nil {
				status.DeliveredAmount = &amt
			}
		}
		e.validated[p.hash] = status
		hashes = append(hashes, p.hash)

		if e.streams(p.tx) {
			msgs = append(msgs, validatedMessage(p.hash, p.tx, result, index, closeTime, delivered))
		}
	}
	e.mu.Unlock()

	for _, m := range msgs {
		e.Emit(m)
	}
	return hashes
}

// apply charges the fee and, on success, moves native value. It returns the
// delivered amount in wire form for successful payments.
func (e *TestEnv) apply(tx map[string]interface{}, result string) json.RawMessage {
	from, _ := tx["Account"].(string)
	src := e.account(from)
	src.sequence++

	if types.ClassifyResult(result) != types.ClassSuccess && types.ClassifyResult(result) != types.ClassClaimed {
		return nil
	}
	fee, _ := XRPAmount.ParseDrops(fmt.Sprint(tx["Fee"]))
	src.balance = src.balance.Sub(fee)

	if result != types.TesSUCCESS || tx["TransactionType"] != "Payment" {
		return nil
	}
	raw, err := json.Marshal(tx["Amount"])
	if err != nil {
		return nil
	}
	amt, err := types.ParseAmount(raw)
	if err != nil {
		return nil
	}
	to, _ := tx["Destination"].(string)
	if amt.IsNative() {
		src.balance = src.balance.Sub(amt.Drops)
		e.account(to).balance = e.account(to).balance.Add(amt.Drops)
	} else {
		key := lineKey(from, amt.Issuer(), amt.Currency())
		if from != amt.Issuer() {
			e.lines[key] = e.lines[key].Sub(amt.Issued.Value)
		}
		if to != amt.Issuer() {
			dst := lineKey(to, amt.Issuer(), amt.Currency())
			e.lines[dst] = e.lines[dst].Add(amt.Issued.Value)
		}
	}
	return raw
}

func (e *TestEnv) streams(tx map[string]interface{}) bool {
	from, _ := tx["Account"].(string)
	to, _ := tx["Destination"].(string)
	return e.subscribed[from] > 0 || (to != "" && e.subscribed[to] > 0)
}

func validatedMessage(hash string, tx map[string]interface{}, result string, index, closeTime uint32, delivered json.RawMessage) *gateway.TransactionStream {
	body := make(map[string]interface{}, len(tx)+2)
	for k, v := range tx {
		body[k] = v
	}
	body["hash"] = hash
	body["date"] = closeTime
	raw, _ := json.Marshal(body)

	return &gateway.TransactionStream{
		Type:         "transaction",
		EngineResult: result,
		LedgerIndex:  index,
		Validated:    true,
		Hash:         hash,
		Transaction:  raw,
		Meta:         &gateway.Meta{TransactionResult: result, DeliveredAmount: delivered},
	}
}

// Emit pushes a stream message to Events. It drops the message when the
// buffer is full, like the websocket client does.
func (e *TestEnv) Emit(msg *gateway.TransactionStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case e.events <- gateway.StreamMessage{Transaction: msg}:
	default:
		e.t.Logf("event buffer full, dropping %s", msg.Hash)
	}
}

// EmitError pushes a stream error to Events.
func (e *TestEnv) EmitError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case e.events <- gateway.StreamMessage{Err: err}:
	default:
		e.t.Logf("event buffer full, dropping %v", err)
	}
}

// EmitPayment streams a validated payment that did not go through Submit.
func (e *TestEnv) EmitPayment(hash, from, to string, amount types.Amount) {
	tx := map[string]interface{}{
		"TransactionType": "Payment",
		"Account":         from,
		"Destination":     to,
		"Amount":          amount.Flatten(),
		"Fee":             "12",
		"Sequence":        1,
	}
	e.mu.Lock()
	index := e.ledgerIndex
	closeTime := e.clock.RippleTime()
	e.mu.Unlock()
	e.Emit(validatedMessage(hash, tx, types.TesSUCCESS, index, closeTime, nil))
}

// =============================================================================
// FakeSigner
// =============================================================================

// FakeSigner "signs" by hex encoding the JSON transaction. The hash is the
// SHA-256 of the blob, which TestEnv.Submit recomputes.
type FakeSigner struct {
	walletType signer.WalletType

	mu    sync.Mutex
	calls int
	fail  error
	last  map[string]interface{}
}

var _ signer.Signer = (*FakeSigner)(nil)

func NewFakeSigner(walletType signer.WalletType) *FakeSigner {
	return &FakeSigner{walletType: walletType}
}

func (s *FakeSigner) WalletType() signer.WalletType {
	return s.walletType
}

// FailWith makes every later Sign return err. Pass nil to reset.
func (s *FakeSigner) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *FakeSigner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Last returns the last transaction handed to Sign.
func (s *FakeSigner) Last() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *FakeSigner) Sign(ctx context.Context, tx map[string]interface{}) (signer.Signed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = tx
	if s.fail != nil {
		return signer.Signed{}, s.fail
	}
	if err := ctx.Err(); err != nil {
		return signer.Signed{}, err
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return signer.Signed{}, err
	}
	blob := strings.ToUpper(hex.EncodeToString(raw))
	return signer.Signed{Blob: blob, Hash: blobHash(blob)}, nil
}

func blobHash(blob string) string {
	sum := sha256.Sum256([]byte(blob))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func decodeBlob(blob string) (map[string]interface{}, string, error) {
	raw, err := hex.DecodeString(blob)
	if err != nil {
		return nil, "", err
	}
	var tx map[string]interface{}
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, "", err
	}
	return tx, blobHash(blob), nil
}
