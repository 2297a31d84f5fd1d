// Package cmd defines and implements the CLI commands for the urlcheck
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pip-arch/url-compliance-checker/internal/config"
	"github.com/pip-arch/url-compliance-checker/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urlcheck",
		Short: "A resumable, resource-aware URL compliance batch engine.",
		Long: `urlcheck processes large lists of URLs in adaptive chunks, bounding
concurrency globally and per host, tripping a durable circuit breaker on
repeatedly failing hosts, and checkpointing progress after every chunk so
an interrupted run resumes where it left off.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); defaults apply when omitted")

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newBreakerCmd())
	return cmd
}

// loadRuntime builds the configuration and logger shared by all subcommands.
func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
