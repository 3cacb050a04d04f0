package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queries in the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := requireValidRepository(cmd)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, q := range repo.Queries {
				latest, _ := q.LatestVersion()
				version := "-"
				revisions := 0
				if latest != nil {
					version = fmt.Sprintf("v%d", latest.Version)
					revisions = len(latest.Revisions)
				}
				row := []string{
					q.Name,
					q.Destination.Relation(),
					version,
					fmt.Sprintf("%d", len(q.Versions)),
				}
				if detailed {
					row = append(row,
						fmt.Sprintf("%d", revisions),
						strings.Join(q.Upstreams, ", "),
						q.Owner,
						strings.Join(q.Tags, ", "),
					)
				}
				rows = append(rows, row)
			}

			header := []string{"Query", "Destination", "Latest", "Versions"}
			if detailed {
				header = append(header, "Revisions", "Upstreams", "Owner", "Tags")
			}
			renderTable(cmd.OutOrStdout(), header, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "include revisions, upstreams, owner, and tags")
	return cmd
}
