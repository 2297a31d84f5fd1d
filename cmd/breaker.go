package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pip-arch/url-compliance-checker/internal/breaker"
)

// newBreakerCmd creates the 'breaker' command group for operating on the
// durable circuit breaker state between runs.
func newBreakerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or reset circuit breaker state",
	}
	cmd.AddCommand(newBreakerResetCmd())
	cmd.AddCommand(newBreakerShowCmd())
	return cmd
}

func newBreakerResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <host>",
		Short: "Force a host's circuit back to closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			b, err := openBreaker(cfg.Breaker.StatePath, cfg.Breaker.FailureThreshold, logger)
			if err != nil {
				return err
			}
			b.Reset(args[0])
			b.Flush()
			logger.Info("circuit reset", zap.String("host", args[0]))
			return nil
		},
	}
}

func newBreakerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <host>",
		Short: "Print a host's current circuit state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			b, err := openBreaker(cfg.Breaker.StatePath, cfg.Breaker.FailureThreshold, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], b.HostState(args[0]))
			return nil
		},
	}
}

func openBreaker(statePath string, threshold int, logger *zap.Logger) (*breaker.Breaker, error) {
	b, err := breaker.New(breaker.Config{
		FailureThreshold: threshold,
		StatePath:        statePath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open breaker state: %w", err)
	}
	return b, nil
}
