package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate every query definition in the repository",
		Long: `Load the repository, resolve includes and references, materialize
inherited schemas and invariants, extract dependencies, and report
every problem found. All problems are collected and printed, not just
the first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := loadRepository(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, w := range repo.Warnings {
				fmt.Fprintf(out, "warning %s\n", w)
			}
			if !repo.Valid() {
				for _, e := range repo.Errors {
					fmt.Fprintf(out, "error   %v\n", e)
				}
				fmt.Fprintf(out, "\n%d queries, %d errors, %d warnings\n",
					len(repo.Queries), len(repo.Errors), len(repo.Warnings))
				return &ValidationFailed{Problems: repo.Errors}
			}

			fmt.Fprintf(out, "%d queries validated, %d warnings\n", len(repo.Queries), len(repo.Warnings))
			return nil
		},
	}
}
