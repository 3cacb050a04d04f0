package commands

import (
	"fmt"
	"time"

	"github.com/bqdrift/bqdrift/internal/invariant"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/spf13/cobra"
)

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	var (
		partition  string
		beforeOnly bool
		afterOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "check <query>",
		Short: "Run a query's invariants without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if beforeOnly && afterOnly {
				return fmt.Errorf("--before and --after are mutually exclusive")
			}
			s, err := buildStack(cmd)
			if err != nil {
				return err
			}
			q, ok := s.Repo.Query(args[0])
			if !ok {
				return fmt.Errorf("unknown query %q", args[0])
			}

			var key core.PartitionKey
			if partition != "" {
				key, err = parseKeyFlag(q, partition)
				if err != nil {
					return err
				}
			} else {
				_, key = defaultRange(q, 1)
			}

			resolved, err := core.Resolve(q, key, time.Now().UTC())
			if err != nil {
				return err
			}

			runner := invariant.NewRunner(s.Client, s.Config.Project, q.Destination, key, getLogger(cmd))

			report := invariant.Report{}
			if !afterOnly {
				report.Before, err = runner.Run(cmd.Context(), resolved.Invariants.Before)
				if err != nil {
					return err
				}
			}
			if !beforeOnly {
				report.After, err = runner.Run(cmd.Context(), resolved.Invariants.After)
				if err != nil {
					return err
				}
			}

			var rows [][]string
			for _, phase := range []struct {
				name    string
				results []invariant.CheckResult
			}{{"before", report.Before}, {"after", report.After}} {
				for _, r := range phase.results {
					rows = append(rows, []string{phase.name, r.Name, string(r.Status), string(r.Severity), r.Message})
				}
			}
			renderTable(cmd.OutOrStdout(), []string{"Phase", "Check", "Status", "Severity", "Message"}, rows)

			if report.HasBeforeErrors() || report.HasAfterErrors() {
				return fmt.Errorf("invariant checks failed for %s partition %s", q.Name, key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&partition, "partition", "", "partition key (default: today)")
	cmd.Flags().BoolVar(&beforeOnly, "before", false, "run only before checks")
	cmd.Flags().BoolVar(&afterOnly, "after", false, "run only after checks")
	return cmd
}
