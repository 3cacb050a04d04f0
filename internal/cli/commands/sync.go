package commands

import (
	"fmt"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/bqdrift/bqdrift/internal/engine"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand() *cobra.Command {
	var (
		query   string
		from    string
		to      string
		days    int
		cascade bool
		dryRun  bool
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Re-execute drifted partitions",
		Long: `Classify drift over the window, audit immutability, and re-execute
every drifted partition in dependency order.

The sync fails with exit code 3 if any executed SQL has been mutated
in place, unless --allow-source-mutation is given; with the override
the stored SQL is overwritten, while history rows stay untouched.
Cascading to downstream queries requires --cascade. The default window
is the 7 days ending today; --all ignores drift and re-executes the
whole window.`,
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

			// Immutability gate before anything is re-executed.
			auditor := drift.NewAuditor(s.Repo, s.Store, getLogger(cmd))
			names := make([]string, 0, len(queries))
			for _, q := range queries {
				names = append(names, q.Name)
			}
			audit, err := auditor.Audit(cmd.Context(), names...)
			if err != nil {
				return err
			}
			if !audit.Clean() && !s.Config.AllowSourceMutation {
				out := cmd.OutOrStdout()
				for _, v := range audit.Violations {
					fmt.Fprintf(out, "immutability violation: %s %s (%d partitions, %s)\n",
						v.QueryName, v.Label(), len(v.AffectedPartitions), v.PartitionRange())
				}
				fmt.Fprintln(out, "\nre-run with --allow-source-mutation to overwrite the stored SQL")
				return &ImmutabilityViolated{Count: len(audit.Violations)}
			}

			report, err := classifyAll(cmd.Context(), s.Repo, s.Store, queries, "", from, to, days)
			if err != nil {
				return err
			}

			var seeds []drift.PartitionDrift
			if all {
				seeds = report.Partitions
			} else {
				seeds = report.NeedsRerun()
			}
			if len(seeds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "everything is current")
				return nil
			}

			plan, err := s.Engine.Expand(seeds, cascade)
			if err != nil {
				return err
			}
			for _, skipped := range plan.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: cascade skipped %s\n", skipped)
			}

			runReport, err := s.Engine.Execute(cmd.Context(), plan, engine.RunOptions{
				DryRun:  dryRun,
				Trigger: syncTrigger(cascade),
			})
			if err != nil {
				return err
			}
			return printRunReport(cmd, runReport)
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "restrict to one query")
	cmd.Flags().StringVar(&from, "from", "", "first partition key (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last partition key (inclusive)")
	cmd.Flags().IntVar(&days, "days", 0, "window size ending today (default 7)")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also re-execute downstream partitions")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan without executing")
	cmd.Flags().BoolVar(&all, "all", false, "re-execute the whole window regardless of drift")
	return cmd
}

func syncTrigger(cascade bool) state.TriggeredBy {
	if cascade {
		return state.TriggerCascade
	}
	return state.TriggerSync
}
