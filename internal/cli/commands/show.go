package commands

import (
	"fmt"
	"strings"

	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command.
func NewShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <query>",
		Short: "Show one query's versions, schema, and dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := requireValidRepository(cmd)
			if err != nil {
				return err
			}
			q, ok := repo.Query(args[0])
			if !ok {
				return fmt.Errorf("unknown query %q", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", q.Name)
			if q.Description != "" {
				fmt.Fprintf(out, "  %s\n", q.Description)
			}
			fmt.Fprintf(out, "  destination: %s\n", q.Destination.Relation())
			fmt.Fprintf(out, "  partition:   %s\n", partitionSummary(q.Destination.Partition))
			if len(q.Destination.Cluster) > 0 {
				fmt.Fprintf(out, "  cluster:     %s\n", strings.Join(q.Destination.Cluster, ", "))
			}
			if q.Owner != "" {
				fmt.Fprintf(out, "  owner:       %s\n", q.Owner)
			}
			if len(q.Upstreams) > 0 {
				fmt.Fprintf(out, "  upstreams:   %s\n", strings.Join(q.Upstreams, ", "))
			}
			if down := repo.Graph.Downstream(q.Name); len(down) > 0 {
				fmt.Fprintf(out, "  downstreams: %s\n", strings.Join(down, ", "))
			}

			for _, v := range q.Versions {
				fmt.Fprintf(out, "\n  v%d (effective from %s)\n", v.Version, v.EffectiveFrom.Format("2006-01-02"))
				for _, f := range v.Schema.Fields {
					mode := f.Mode
					if mode == "" {
						mode = core.ModeNullable
					}
					fmt.Fprintf(out, "    %-24s %-12s %s\n", f.Name, f.Type, mode)
				}
				for _, r := range v.Revisions {
					reason := r.Reason
					if reason != "" {
						reason = " - " + reason
					}
					fmt.Fprintf(out, "    r%d (effective from %s)%s\n", r.Revision, r.EffectiveFrom.Format("2006-01-02"), reason)
				}
				if n := len(v.Invariants.Before) + len(v.Invariants.After); n > 0 {
					fmt.Fprintf(out, "    invariants: %d before, %d after\n", len(v.Invariants.Before), len(v.Invariants.After))
				}
			}
			return nil
		},
	}
}

func partitionSummary(p core.PartitionSpec) string {
	switch p.Type {
	case core.PartitionRange:
		return fmt.Sprintf("RANGE(%s, %d..%d step %d)", p.Field, p.Start, p.End, p.Interval)
	case core.PartitionIngestionTime:
		return fmt.Sprintf("INGESTION_TIME(%s)", p.Granularity)
	default:
		return fmt.Sprintf("%s(%s)", p.Granularity, p.Field)
	}
}
