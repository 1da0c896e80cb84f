package commands

import (
	"fmt"
	"time"

	"github.com/jongio/portwatch/src/internal/output"
	"github.com/jongio/portwatch/src/internal/portscan"

	"github.com/spf13/cobra"
)

var watchInterval time.Duration

// snapshotLine is the first line of JSON watch output.
type snapshotLine struct {
	Type    string                `json:"type"`
	Records []portscan.PortRecord `json:"records"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print port changes in the development range as they happen",
		Long: `Scans the development port range, prints it, then polls and prints one line per
added, removed or updated endpoint until interrupted. JSON output emits one event per line.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "Poll interval (default from config)")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}
	interval := watchInterval
	if interval <= 0 {
		interval = d.cfg.Interval
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	mon := d.newMonitor()
	defer mon.Cleanup()

	events, unsubscribe := mon.SubscribeChan(0)
	defer unsubscribe()

	initial, err := mon.Start(ctx, interval)
	if err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	if output.IsJSON() {
		if err := output.PrintJSONLine(snapshotLine{Type: "snapshot", Records: initial}); err != nil {
			return err
		}
	}
	output.PrintDefault(func() {
		output.Section("👀", fmt.Sprintf("Watching %s every %s (Ctrl+C to stop)", d.cfg.DevRange, interval))
		output.PortTable(initial)
		output.Newline()
	})

	printer := output.NewEventPrinter()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if output.IsJSON() {
				if err := output.PrintJSONLine(ev); err != nil {
					return err
				}
				continue
			}
			printer.PrintEvent(string(ev.Type), ev.Record)
		}
	}
}
