package commands

import (
	"fmt"
	"sort"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	var (
		query     string
		partition string
		from      string
		to        string
		days      int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Classify drift for partitions against recorded state",
		Long: `Compare the current definitions against the recorded execution state
and classify every (query, partition) in the window. Exits 2 when any
partition is drifted, for CI gating. The default window is the 7 days
ending today.`,
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

			report, err := classifyAll(cmd.Context(), s.Repo, s.Store, queries, partition, from, to, days)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, d := range report.Partitions {
				caused := d.CausedBy
				if caused == "" {
					caused = "-"
				}
				executed := "-"
				if d.ExecutedVersion > 0 {
					executed = fmt.Sprintf("v%d", d.ExecutedVersion)
				}
				rows = append(rows, []string{
					d.QueryName,
					d.PartitionKey.String(),
					string(d.DisplayLabel()),
					fmt.Sprintf("v%d", d.CurrentVersion),
					executed,
					caused,
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"Query", "Partition", "State", "Current", "Executed", "Caused by"}, rows)

			summary := report.Summary()
			var states []string
			for st := range summary {
				states = append(states, string(st))
			}
			sort.Strings(states)
			for _, st := range states {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d  ", st, summary[drift.State(st)])
			}
			fmt.Fprintln(cmd.OutOrStdout())

			if drifted := report.NeedsRerun(); len(drifted) > 0 {
				return &DriftDetected{Count: len(drifted)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "restrict to one query")
	cmd.Flags().StringVar(&partition, "partition", "", "a single partition key")
	cmd.Flags().StringVar(&from, "from", "", "first partition key (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last partition key (inclusive)")
	cmd.Flags().IntVar(&days, "days", 0, "window size ending today (default 7)")
	return cmd
}
