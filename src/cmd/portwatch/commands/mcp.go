package commands

import (
	"os"

	"github.com/jongio/portwatch/src/internal/mcpserver"

	"github.com/spf13/cobra"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve portwatch tools over the Model Context Protocol on stdio",
		Long: `Speaks MCP on stdin/stdout so assistants can call scan_ports, lookup_port,
kill_port and check_port_available. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			srv := mcpserver.New(Version, d.scanner, d.actions)
			return srv.Serve(ctx, os.Stdin, os.Stdout)
		},
	}
}
