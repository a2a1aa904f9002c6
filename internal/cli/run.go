package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Run flags
	watchAddrs []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch accounts and track payments until interrupted",
	Long: `Connect to the configured ledger endpoint and:
- stream validated transactions for the --watch accounts into the cache
- confirm or time out submitted payments in the background
- serve Prometheus metrics on metrics.addr when enabled
- prune the payment archive when enabled`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVarP(&watchAddrs, "watch", "w", nil, "classic address to watch (repeatable)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := dialApp(ctx, cfg, logger, newConsolePrompt(os.Stdin, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()

	logger.WithField("endpoint", cfg.Ledger.URL).Info("Starting xrplwatch")
	err = a.run(ctx, watchAddrs)
	logger.Info("Stopped")
	return err
}
