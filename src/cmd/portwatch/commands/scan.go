package commands

import (
	"fmt"

	"github.com/jongio/portwatch/src/internal/output"
	"github.com/jongio/portwatch/src/internal/portscan"
	"github.com/jongio/portwatch/src/internal/scanner"

	"github.com/spf13/cobra"
)

var (
	scanStart int
	scanEnd   int
	scanDev   bool
)

// ScanResult is the JSON output of scan.
type ScanResult struct {
	Range   string                `json:"range"`
	Count   int                   `json:"count"`
	Records []portscan.PortRecord `json:"records"`
}

// NewScanCommand creates the scan command.
func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List processes holding TCP/UDP ports",
		Long: `Lists every process holding a TCP or UDP port from 1024 to 65535, sorted by port.
Restrict the listing with --start/--end (both 1024-65535) or --dev for the configured development range.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}

	cmd.Flags().IntVar(&scanStart, "start", 0, "First port of the range")
	cmd.Flags().IntVar(&scanEnd, "end", 0, "Last port of the range")
	cmd.Flags().BoolVar(&scanDev, "dev", false, "Scan the development port range")
	cmd.MarkFlagsRequiredTogether("start", "end")
	cmd.MarkFlagsMutuallyExclusive("dev", "start")
	cmd.MarkFlagsMutuallyExclusive("dev", "end")

	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	r := portscan.Range{Start: scanStart, End: scanEnd}
	if r.IsZero() {
		r = scanner.FullRange
	}
	var records []portscan.PortRecord
	if scanDev {
		r = d.cfg.DevRange
		records, err = d.scanner.ScanDevRange(ctx)
	} else {
		records, err = d.scanner.Scan(ctx, r.Start, r.End)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if records == nil {
		records = []portscan.PortRecord{}
	}

	result := ScanResult{Range: r.String(), Count: len(records), Records: records}
	return output.Print(result, func() {
		output.Section("🔍", fmt.Sprintf("Ports (%s)", r))
		output.PortTable(records)
	})
}
