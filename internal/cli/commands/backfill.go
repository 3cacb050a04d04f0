package commands

import (
	"fmt"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/bqdrift/bqdrift/internal/engine"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/spf13/cobra"
)

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand() *cobra.Command {
	var (
		from            string
		to              string
		dryRun          bool
		skipInvariants  bool
		continueOnError bool
	)

	cmd := &cobra.Command{
		Use:   "backfill <query>",
		Short: "Execute one query across a partition range",
		Long: `Execute every partition of a query from --from through --to in
ascending order. Each partition resolves its own version, so historical
partitions run historically correct SQL. The backfill stops at the
first failing partition unless --continue-on-error is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				return fmt.Errorf("--from and --to are required")
			}
			s, err := buildStack(cmd)
			if err != nil {
				return err
			}
			q, ok := s.Repo.Query(args[0])
			if !ok {
				return fmt.Errorf("unknown query %q", args[0])
			}
			lo, err := core.ParseKey(q.Destination.Partition, from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			hi, err := core.ParseKey(q.Destination.Partition, to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			plan := s.Engine.PlanRange(q, lo, hi, drift.StateNeverRun)
			report, err := s.Engine.Execute(cmd.Context(), plan, engine.RunOptions{
				DryRun:          dryRun,
				SkipInvariants:  skipInvariants,
				ContinueOnError: continueOnError,
				Trigger:         state.TriggerBackfill,
			})
			if err != nil {
				return err
			}
			return printRunReport(cmd, report)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first partition key (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last partition key (inclusive)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan without executing")
	cmd.Flags().BoolVar(&skipInvariants, "skip-invariants", false, "skip before/after checks")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep going past failing partitions")
	return cmd
}
