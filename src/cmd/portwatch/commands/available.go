package commands

import (
	"github.com/jongio/portwatch/src/internal/actions"
	"github.com/jongio/portwatch/src/internal/output"
	"github.com/jongio/portwatch/src/internal/portscan"

	"github.com/spf13/cobra"
)

var (
	availableNext bool
	availableEnd  int
)

// portChecker confirms a candidate from `available --next` can be bound.
var portChecker actions.PortChecker = actions.BindCheck

// AvailableResult is the JSON output of available.
type AvailableResult struct {
	Port      int  `json:"port"`
	Available bool `json:"available"`
	Next      int  `json:"next,omitempty"`
}

// NewAvailableCommand creates the available command.
func NewAvailableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "available PORT",
		Short: "Check whether a port is free",
		Long: `Reports whether any process holds PORT. With --next, a taken port is followed by
the lowest free port above it (up to --end) that can also be bound.`,
		Args: cobra.ExactArgs(1),
		RunE: runAvailable,
	}

	cmd.Flags().BoolVar(&availableNext, "next", false, "Find the next free port when PORT is taken")
	cmd.Flags().IntVar(&availableEnd, "end", portscan.MaxPort, "Last port --next considers")

	return cmd
}

func runAvailable(cmd *cobra.Command, args []string) error {
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	d, err := loadDeps()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	result := AvailableResult{Port: port, Available: d.actions.IsAvailable(ctx, port)}
	if !result.Available && availableNext && port < availableEnd {
		next, err := actions.NextAvailable(ctx, d.scanner, port+1, availableEnd, portChecker)
		if err != nil {
			return err
		}
		result.Next = next
	}

	if err := output.Print(result, func() {
		if result.Available {
			output.Success("Port %d is available", port)
			return
		}
		output.Warning("Port %d is in use", port)
		if result.Next != 0 {
			output.Info("Next available port: %s", output.Highlight("%d", result.Next))
		}
	}); err != nil {
		return err
	}
	if !result.Available && result.Next == 0 {
		return ErrActionFailed
	}
	return nil
}
