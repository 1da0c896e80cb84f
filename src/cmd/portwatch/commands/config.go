package commands

import (
	"fmt"

	"github.com/jongio/portwatch/src/internal/config"
	"github.com/jongio/portwatch/src/internal/output"

	"github.com/spf13/cobra"
)

var configInitForce bool

// NewConfigCommand creates the config command and its subcommands.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the portwatch config file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
	initCmd.Flags().BoolVar(&configInitForce, "force", false, "Replace an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	if err := config.Write(path, config.Default(), configInitForce); err != nil {
		return err
	}

	return output.Print(map[string]string{"path": path}, func() {
		output.Success("Wrote %s", path)
	})
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	return output.Print(cfg, func() {
		output.Label("Cache TTL", cfg.CacheTTL.String())
		output.Label("Interval", cfg.Interval.String())
		output.Label("Dev range", cfg.DevRange.String())
		output.Label("Command rate", fmt.Sprintf("%g/s", cfg.CommandRate))
		output.Label("Dashboard address", cfg.DashboardAddr)
	})
}
