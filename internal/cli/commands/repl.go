package commands

import (
	"time"

	"github.com/bqdrift/bqdrift/internal/repl"
	"github.com/spf13/cobra"
)

// NewReplCommand creates the repl command.
func NewReplCommand() *cobra.Command {
	var (
		server      bool
		maxSessions int
		idleTimeout int
	)

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive prompt, or a JSON-RPC server with --server",
		Long: `Start an interactive prompt over the loaded repository. With
--server, speak line-delimited JSON-RPC 2.0 on stdin/stdout instead
(methods: eval, ping, shutdown).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := buildStack(cmd)
			if err != nil {
				return err
			}
			session := repl.NewSession(s.Repo, s.Store, getLogger(cmd))

			if server {
				srv := repl.NewServer(session, repl.ServerConfig{
					IdleTimeout: time.Duration(idleTimeout) * time.Second,
					MaxSessions: maxSessions,
					Logger:      getLogger(cmd),
				})
				return srv.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return session.Interactive(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&server, "server", false, "run as a JSON-RPC server on stdio")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 8, "maximum concurrent server sessions")
	cmd.Flags().IntVar(&idleTimeout, "idle-timeout", 1800, "server session idle timeout in seconds")
	return cmd
}
