package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jongio/portwatch/src/internal/actions"
	"github.com/jongio/portwatch/src/internal/dashboard"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/output"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var (
	serveAddr     string
	serveInterval time.Duration
	serveOpen     bool
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live port dashboard and API",
		Long: `Starts the monitor and an HTTP server on localhost with a JSON API, a WebSocket
event stream at /api/ws and Prometheus metrics at /metrics.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	cmd.Flags().DurationVarP(&serveInterval, "interval", "i", 0, "Poll interval (default from config)")
	cmd.Flags().BoolVar(&serveOpen, "open", false, "Open the dashboard in the browser")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}
	addr := serveAddr
	if addr == "" {
		addr = d.cfg.DashboardAddr
	}
	interval := serveInterval
	if interval <= 0 {
		interval = d.cfg.Interval
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	mon := d.newMonitor()
	defer mon.Cleanup()
	if _, err := mon.Start(ctx, interval); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	srv := dashboard.New(mon, d.scanner, d.actions, d.metrics)
	url, err := srv.Start(addr)
	if err != nil {
		return err
	}

	output.PrintDefault(func() {
		output.Success("Dashboard running at %s", output.URL(url))
		output.Item("Watching %s every %s (Ctrl+C to stop)", d.cfg.DevRange, interval)
	})
	if output.IsJSON() {
		if err := output.PrintJSONLine(map[string]string{"url": url}); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if serveOpen {
		g.Go(func() error {
			if err := actions.SystemBrowser.Open(url); err != nil {
				logging.Warn("failed to open browser", "url", url, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
