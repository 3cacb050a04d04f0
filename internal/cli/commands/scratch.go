package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewScratchCommand creates the scratch command group.
func NewScratchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scratch",
		Short: "Inspect and promote scratch-mode results",
	}
	cmd.AddCommand(newScratchListCommand(), newScratchPromoteCommand())
	return cmd
}

func newScratchListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tables staged in the scratch project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := buildStack(cmd)
			if err != nil {
				return err
			}
			tables, err := s.Engine.ScratchList(cmd.Context())
			if err != nil {
				return err
			}
			var rows [][]string
			for _, t := range tables {
				rows = append(rows, []string{t.Dataset, t.Table, t.Created, t.Expires})
			}
			renderTable(cmd.OutOrStdout(), []string{"Dataset", "Table", "Created", "Expires"}, rows)
			return nil
		},
	}
}

func newScratchPromoteCommand() *cobra.Command {
	var partition string

	cmd := &cobra.Command{
		Use:   "promote <query>",
		Short: "Copy a scratch partition into production",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if partition == "" {
				return fmt.Errorf("--partition is required")
			}
			s, err := buildStack(cmd)
			if err != nil {
				return err
			}
			q, ok := s.Repo.Query(args[0])
			if !ok {
				return fmt.Errorf("unknown query %q", args[0])
			}
			key, err := parseKeyFlag(q, partition)
			if err != nil {
				return err
			}
			stats, err := s.Engine.ScratchPromote(cmd.Context(), q, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted %s partition %s (%d rows)\n", q.Name, key, stats.RowsWritten)
			return nil
		},
	}

	cmd.Flags().StringVar(&partition, "partition", "", "partition key to promote")
	return cmd
}
