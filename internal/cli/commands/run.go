package commands

import (
	"fmt"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/bqdrift/bqdrift/internal/engine"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var (
		query          string
		partition      string
		dryRun         bool
		skipInvariants bool
		scratch        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute queries for a partition",
		Long: `Execute one query (or every query, in dependency order) for one
partition. Without --partition, today's partition is used.`,
		Example: `  # Run every query for today's partition
  bqdrift run

  # Run one query for one partition
  bqdrift run --query analytics.daily_user_stats --partition 2024-06-15

  # See what would run without touching the warehouse
  bqdrift run --partition 2024-06-15 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := buildStack(cmd)
			if err != nil {
				return err
			}

			queries, err := selectQueries(s.Repo, query)
			if err != nil {
				return err
			}

			var seeds []drift.PartitionDrift
			for _, q := range queries {
				var key core.PartitionKey
				if partition != "" {
					key, err = parseKeyFlag(q, partition)
					if err != nil {
						return err
					}
				} else {
					_, key = defaultRange(q, 1)
				}
				seeds = append(seeds, drift.PartitionDrift{
					QueryName:    q.Name,
					PartitionKey: key,
					Label:        drift.StateNeverRun,
				})
			}

			plan, err := s.Engine.Expand(seeds, false)
			if err != nil {
				return err
			}

			report, err := s.Engine.Execute(cmd.Context(), plan, engine.RunOptions{
				DryRun:         dryRun,
				SkipInvariants: skipInvariants,
				Scratch:        scratch,
				Trigger:        state.TriggerRun,
			})
			if err != nil {
				return err
			}
			return printRunReport(cmd, report)
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "run only this query")
	cmd.Flags().StringVar(&partition, "partition", "", "partition key (default: today)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan without executing")
	cmd.Flags().BoolVar(&skipInvariants, "skip-invariants", false, "skip before/after checks")
	cmd.Flags().BoolVar(&scratch, "scratch", false, "write to the scratch project")
	return cmd
}

// printRunReport renders unit outcomes and surfaces failures as an
// error so the exit code reflects them.
func printRunReport(cmd *cobra.Command, report *engine.RunReport) error {
	out := cmd.OutOrStdout()

	var rows [][]string
	for _, u := range report.Units {
		detail := u.Error
		if u.Status == engine.UnitSuccess {
			detail = fmt.Sprintf("%d rows, %d bytes", u.Stats.RowsWritten, u.Stats.BytesProcessed)
		}
		rows = append(rows, []string{u.QueryName, u.PartitionKey, u.Version, string(u.Status), detail})
	}
	renderTable(out, []string{"Query", "Partition", "Version", "Status", "Detail"}, rows)

	if report.Interrupted {
		fmt.Fprintln(out, "interrupted: remaining units were not scheduled")
		return cmd.Context().Err()
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d units failed", len(failed), len(report.Units))
	}
	return nil
}
