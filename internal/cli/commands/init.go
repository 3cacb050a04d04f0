package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the tracking tables",
		Long: `Create _bqdrift_state and _bqdrift_history in the tracking dataset.
Safe to re-run: existing tables are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// init must work before any query exists, so it builds
			// only the gateway, not the full stack.
			cfg := getConfig(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			gateway, err := buildGateway(cmd)
			if err != nil {
				return err
			}
			if err := gateway.EnsureTables(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tracking tables ready in %s.%s\n", cfg.Project, cfg.Dataset)
			return nil
		},
	}
	return cmd
}
