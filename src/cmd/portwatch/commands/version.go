package commands

import (
	"runtime"

	"github.com/jongio/portwatch/src/internal/output"

	"github.com/spf13/cobra"
)

// VersionInfo is the JSON output of version.
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the portwatch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := VersionInfo{
				Version:   Version,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return output.Print(info, func() {
				output.Label("portwatch", info.Version)
				output.Label("Go", info.GoVersion)
				output.Label("Platform", info.Platform)
			})
		},
	}
}
