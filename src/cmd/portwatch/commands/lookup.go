package commands

import (
	"fmt"

	"github.com/jongio/portwatch/src/internal/output"
	"github.com/jongio/portwatch/src/internal/portscan"

	"github.com/spf13/cobra"
)

// LookupResult is the JSON output of lookup.
type LookupResult struct {
	Port   int                  `json:"port"`
	Found  bool                 `json:"found"`
	Record *portscan.PortRecord `json:"record,omitempty"`
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup PORT",
		Short: "Show the process holding a port",
		Args:  cobra.ExactArgs(1),
		RunE:  runLookup,
	}
}

func runLookup(cmd *cobra.Command, args []string) error {
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	d, err := loadDeps()
	if err != nil {
		return err
	}

	rec, err := d.scanner.Lookup(cmd.Context(), port)
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	result := LookupResult{Port: port, Found: rec != nil, Record: rec}
	return output.Print(result, func() {
		if rec == nil {
			output.Info("No process found on port %d", port)
			return
		}
		output.PortDetail(*rec)
	})
}
