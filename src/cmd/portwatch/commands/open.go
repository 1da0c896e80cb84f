package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openProtocol string

// NewOpenCommand creates the open command.
func NewOpenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open PORT",
		Short: "Open localhost:PORT in the default browser",
		Args:  cobra.ExactArgs(1),
		RunE:  runOpen,
	}

	cmd.Flags().StringVar(&openProtocol, "protocol", "", "URL scheme (http or https); defaults to https for 443, 8443 and 9443")

	return cmd
}

func runOpen(cmd *cobra.Command, args []string) error {
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	if openProtocol != "" && openProtocol != "http" && openProtocol != "https" {
		return fmt.Errorf("invalid --protocol %q: must be http or https", openProtocol)
	}
	d, err := loadDeps()
	if err != nil {
		return err
	}

	return printResult(d.actions.OpenInBrowser(cmd.Context(), port, openProtocol))
}
