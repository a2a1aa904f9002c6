package cli

import (
	"fmt"
	"os"

	"github.com/LeJamon/xrplwatch/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	debug      bool
	quiet      bool

	cfg    *config.Config
	logger *logrus.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xrplwatch",
	Short: "xrplwatch - XRP Ledger account monitor and payment engine",
	Long: `xrplwatch watches XRP Ledger accounts over a rippled websocket endpoint,
keeps a bounded window of recent transactions, and submits payments through
pluggable wallet signers while tracking them to a validated result.`,
	Version:           "0.1.0-dev",
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
}

// initConfig loads the configuration and builds the root logger.
func initConfig(cmd *cobra.Command, args []string) error {
	c, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	l, err := newLogger(c.Log)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	if path := c.GetConfigPath(); path != "" {
		logger.WithField("path", path).Debug("Loaded configuration file")
	}
	return nil
}

func newLogger(c config.LogConfig) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	switch {
	case debug:
		level = logrus.DebugLevel
	case quiet:
		level = logrus.WarnLevel
	}
	l.SetLevel(level)

	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
