// Package cli provides the bqdrift command-line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bqdrift/bqdrift/internal/cli/commands"
	"github.com/bqdrift/bqdrift/internal/cli/config"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

var cfgFile string

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bqdrift",
		Short: "bqdrift - versioned OLAP SQL jobs with drift detection",
		Long: `bqdrift orchestrates versioned SQL jobs against BigQuery, where each
job writes one partition of one destination table.

Queries are declared as YAML + SQL with schema evolution, bugfix
revisions, data-quality invariants, and automatically inferred
dependencies. bqdrift decides which SQL text is authoritative for any
partition, whether it already ran faithfully, and which partitions must
be re-executed when sources change.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx := commands.WithConfig(cmd.Context(), cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cfg.Verbose {
				if used := config.FileUsed(); used != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", used)
				}
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default bqdrift.yaml)")
	flags.String("project", "", "production GCP project")
	flags.String("queries", config.DefaultQueriesDir, "query repository directory")
	flags.String("dataset", config.DefaultDataset, "tracking dataset for state and history")
	flags.String("scratch", "", "scratch project for isolated writes")
	flags.Int("scratch-ttl", config.DefaultScratchTTL, "scratch table expiry in hours")
	flags.Bool("allow-source-mutation", false, "permit sync over immutability violations")
	flags.Int("parallelism", config.DefaultParallelism, "concurrent queries per dependency level")
	flags.Int("timeout", config.DefaultTimeout, "per-statement warehouse timeout in seconds")
	flags.StringP("output", "o", config.DefaultOutput, "output format: table, yaml, or json")
	flags.BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		commands.NewValidateCommand(),
		commands.NewListCommand(),
		commands.NewShowCommand(),
		commands.NewGraphCommand(),
		commands.NewRunCommand(),
		commands.NewBackfillCommand(),
		commands.NewCheckCommand(),
		commands.NewStatusCommand(),
		commands.NewSyncCommand(),
		commands.NewAuditCommand(),
		commands.NewInitCommand(),
		commands.NewScratchCommand(),
		commands.NewReplCommand(),
	)
	return rootCmd
}

// Execute runs the CLI and returns the process exit code. Interrupts
// cancel the context cooperatively; in-flight warehouse jobs complete
// and record their outcomes before the process exits.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	if ctx.Err() != nil {
		return ExitInterrupted
	}
	return ExitOK
}
