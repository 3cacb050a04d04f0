package commands

import (
	"fmt"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/spf13/cobra"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand() *cobra.Command {
	var (
		query        string
		modifiedOnly bool
		showDiff     bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare executed SQL against current definitions",
		Long: `For every (version, revision) that has executed, compare the SQL
recorded at execution time against the current resolved SQL. In-place
mutation of executed SQL is an immutability violation; exit code 3.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := buildStack(cmd)
			if err != nil {
				return err
			}

			var names []string
			if query != "" {
				if _, ok := s.Repo.Query(query); !ok {
					return fmt.Errorf("unknown query %q", query)
				}
				names = append(names, query)
			}

			report, err := drift.NewAuditor(s.Repo, s.Store, getLogger(cmd)).Audit(cmd.Context(), names...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			format := s.Config.Output
			if format != "table" {
				entries := report.Entries
				if modifiedOnly {
					entries = nil
					for _, e := range report.Entries {
						if e.Modified {
							entries = append(entries, e)
						}
					}
				}
				if err := renderStructured(out, format, entries); err != nil {
					return err
				}
			} else {
				var rows [][]string
				for _, e := range report.Entries {
					if modifiedOnly && !e.Modified {
						continue
					}
					status := "current"
					if e.Modified {
						status = "modified"
					}
					executed := "-"
					if !e.FirstExecuted.IsZero() {
						executed = e.FirstExecuted.Format("2006-01-02")
						if last := e.LastExecuted.Format("2006-01-02"); last != executed {
							executed += " to " + last
						}
					}
					rows = append(rows, []string{
						e.QueryName, e.Label(), status, fmt.Sprintf("%d", e.PartitionCount), executed,
					})
				}
				renderTable(out, []string{"Query", "Version", "Status", "Partitions", "Executed"}, rows)
			}

			if showDiff {
				for _, v := range report.Violations {
					fmt.Fprintf(out, "\n%s %s\n%s", v.QueryName, v.Label(), v.Diff())
				}
			}

			if !report.Clean() {
				return &ImmutabilityViolated{Count: len(report.Violations)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "restrict to one query")
	cmd.Flags().BoolVar(&modifiedOnly, "modified-only", false, "show only modified sources")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print unified diffs for violations")
	return cmd
}
