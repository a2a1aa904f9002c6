package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/XRPAmount"
	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/payment"
	"github.com/LeJamon/xrplwatch/internal/signer"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// payFlags mirrors the pay command line.
type payFlags struct {
	from     string
	to       string
	xrp      string
	drops    int64
	currency string
	issuer   string
	value    string
	destTag  int64
	srcTag   int64
	memos    []string
	wallet   string
	key      string
	timeout  time.Duration
}

var pay payFlags

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Submit one payment and wait for its validated result",
	Long: `Submit a payment through the engine and wait for it to be confirmed,
fail, or time out. The final payment record is printed as JSON.

Give the amount either as --xrp or --drops for XRP, or as --currency,
--issuer and --value for an issued token.`,
	Example: `  xrplwatch pay --from rHb9... --to rPMh... --xrp 12.5
  xrplwatch pay --from rHb9... --to rPMh... --currency USD --issuer rvYA... --value 10 --wallet xumm`,
	RunE: runPay,
}

func init() {
	rootCmd.AddCommand(payCmd)

	f := payCmd.Flags()
	f.StringVar(&pay.from, "from", "", "source account")
	f.StringVar(&pay.to, "to", "", "destination account")
	f.StringVar(&pay.xrp, "xrp", "", "XRP amount, e.g. 12.5")
	f.Int64Var(&pay.drops, "drops", 0, "XRP amount in drops")
	f.StringVar(&pay.currency, "currency", "", "token currency code")
	f.StringVar(&pay.issuer, "issuer", "", "token issuer")
	f.StringVar(&pay.value, "value", "", "token amount")
	f.Int64Var(&pay.destTag, "tag", -1, "destination tag")
	f.Int64Var(&pay.srcTag, "source-tag", -1, "source tag")
	f.StringArrayVar(&pay.memos, "memo", nil, "memo text (repeatable)")
	f.StringVar(&pay.wallet, "wallet", string(signer.WalletSeed), "wallet type: seed, xumm, gemwallet or crossmark")
	f.StringVar(&pay.key, "key", "", "idempotency key")
	f.DurationVar(&pay.timeout, "timeout", 30*time.Second, "how long to wait for a validated result")

	payCmd.MarkFlagRequired("from")
	payCmd.MarkFlagRequired("to")
	payCmd.MarkFlagsMutuallyExclusive("xrp", "drops", "currency")
}

func runPay(cmd *cobra.Command, args []string) error {
	req, err := pay.request()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := dialApp(ctx, cfg, logger, newConsolePrompt(os.Stdin, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()

	return a.pay(ctx, req, pay.timeout, cmd.OutOrStdout())
}

// pay submits req, waits for a terminal state and writes the record to out.
// The engine's background loop runs for the duration so stream
// confirmations are observed.
func (a *app) pay(ctx context.Context, req payment.Request, timeout time.Duration, out io.Writer) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.engine.Run(loopCtx)
	}()
	defer func() { cancel(); <-done }()

	p, err := a.engine.Submit(ctx, req)
	if err == nil {
		a.log.WithField("payment_id", p.ID).WithField("hash", p.Hash).Info("Payment submitted, awaiting validation")
		p, err = a.engine.Await(ctx, p.ID, timeout)
	}
	if p.ID != "" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(p); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return err
	}
	if p.State != payment.StateConfirmed {
		return fmt.Errorf("payment %s ended %s: %s", p.ID, p.State, p.Reason)
	}
	return nil
}

// request turns the flags into a payment request.
func (f payFlags) request() (payment.Request, error) {
	req := payment.Request{
		IdempotencyKey: f.key,
		WalletType:     signer.WalletType(f.wallet),
		Source:         f.from,
		Destination:    f.to,
	}
	if !req.WalletType.Valid() {
		return req, fmt.Errorf("unknown wallet type %q", f.wallet)
	}

	switch {
	case f.xrp != "":
		drops, err := XRPAmount.ParseXRP(f.xrp)
		if err != nil {
			return req, err
		}
		req.Amount = types.NativeAmount(drops)
	case f.drops > 0:
		req.Amount = types.NativeAmount(XRPAmount.NewXRPAmount(f.drops))
	case f.currency != "":
		value, err := decimal.NewFromString(f.value)
		if err != nil {
			return req, fmt.Errorf("token value %q: %w", f.value, err)
		}
		req.Amount = types.TokenAmount(f.currency, f.issuer, value)
	default:
		return req, errors.New("an amount is required: --xrp, --drops or --currency/--issuer/--value")
	}

	var err error
	if req.DestinationTag, err = tagFlag("tag", f.destTag); err != nil {
		return req, err
	}
	if req.SourceTag, err = tagFlag("source-tag", f.srcTag); err != nil {
		return req, err
	}
	for _, m := range f.memos {
		req.Memos = append(req.Memos, types.Memo{Data: m, Type: "text", Format: "text/plain"})
	}
	return req, nil
}

func tagFlag(name string, v int64) (*uint32, error) {
	if v < 0 {
		return nil, nil
	}
	if v > int64(^uint32(0)) {
		return nil, fmt.Errorf("--%s %d does not fit in 32 bits", name, v)
	}
	tag := uint32(v)
	return &tag, nil
}
