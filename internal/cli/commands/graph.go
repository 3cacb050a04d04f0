package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph as a forest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := requireValidRepository(cmd)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), repo.Graph.PrettyForest())
			return nil
		},
	}
}
