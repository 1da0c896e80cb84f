package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jongio/portwatch/src/cmd/portwatch/commands"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/output"

	"github.com/spf13/cobra"
)

var (
	outputFormat   string
	debugMode      bool
	structuredLogs bool
	configPath     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "portwatch",
		Short:         "portwatch - See and free the ports your dev processes hold",
		Long:          `portwatch lists the processes holding TCP/UDP ports on this machine, watches the development range for changes, and terminates the process on a port when you need it back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetupLogger(debugMode, structuredLogs)

			if debugMode {
				logging.Debug("Starting portwatch",
					"version", commands.Version,
					"command", cmd.Name(),
					"args", args,
				)
			}

			commands.SetConfigPath(configPath)
			return output.SetFormat(outputFormat)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "default", "Output format (default, json)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&structuredLogs, "structured-logs", false, "Enable structured JSON logging to stderr")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $HOME/.portwatch.yaml)")

	rootCmd.AddCommand(
		commands.NewScanCommand(),
		commands.NewLookupCommand(),
		commands.NewKillCommand(),
		commands.NewOpenCommand(),
		commands.NewAvailableCommand(),
		commands.NewWatchCommand(),
		commands.NewServeCommand(),
		commands.NewMCPCommand(),
		commands.NewConfigCommand(),
		commands.NewVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, commands.ErrActionFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
