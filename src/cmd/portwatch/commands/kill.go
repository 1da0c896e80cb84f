package commands

import (
	"github.com/jongio/portwatch/src/internal/actions"
	"github.com/jongio/portwatch/src/internal/output"

	"github.com/spf13/cobra"
)

var killForce bool

// NewKillCommand creates the kill command.
func NewKillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill PORT",
		Short: "Terminate the process holding a port",
		Long: `Asks the process holding PORT to exit, or kills it with --force.
Processes owned by system accounts are refused unless portwatch runs elevated.`,
		Args: cobra.ExactArgs(1),
		RunE: runKill,
	}

	cmd.Flags().BoolVarP(&killForce, "force", "f", false, "Kill the process instead of asking it to exit")

	return cmd
}

func runKill(cmd *cobra.Command, args []string) error {
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	d, err := loadDeps()
	if err != nil {
		return err
	}

	return printResult(d.actions.Terminate(cmd.Context(), port, killForce))
}

// printResult prints an action result and turns failure into ErrActionFailed.
func printResult(result actions.Result) error {
	err := output.Print(result, func() {
		switch {
		case result.Success && result.URL != "":
			output.Success("%s", result.Message)
			output.Label("URL", output.URL(result.URL))
		case result.Success:
			output.Success("%s", result.Message)
		case result.Reason == actions.ReasonNotFound:
			output.Warning("%s", result.Message)
		default:
			output.Error("%s", result.Message)
			if result.Error != "" {
				output.Item("%s", result.Error)
			}
		}
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return ErrActionFailed
	}
	return nil
}
