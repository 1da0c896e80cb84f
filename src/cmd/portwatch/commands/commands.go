// Package commands provides the command-line interface for portwatch.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jongio/portwatch/src/internal/actions"
	"github.com/jongio/portwatch/src/internal/config"
	"github.com/jongio/portwatch/src/internal/executor"
	"github.com/jongio/portwatch/src/internal/metrics"
	"github.com/jongio/portwatch/src/internal/monitor"
	"github.com/jongio/portwatch/src/internal/platform"
	"github.com/jongio/portwatch/src/internal/portscan"
	"github.com/jongio/portwatch/src/internal/scanner"
)

// Version is set at build time with -ldflags "-X ...commands.Version=1.2.3".
var Version = "dev"

// ErrActionFailed is returned after a failed action's result was printed.
// main exits non-zero without printing it again.
var ErrActionFailed = errors.New("action failed")

// configPath is the --config flag value; empty means the default location.
var configPath string

// SetConfigPath sets the config file used by every command.
func SetConfigPath(path string) {
	configPath = path
}

// deps holds the services commands run against.
type deps struct {
	cfg     config.Config
	metrics *metrics.Metrics
	scanner *scanner.Scanner
	actions *actions.Executor
}

func (d *deps) newMonitor() *monitor.Monitor {
	return monitor.New(d.scanner, monitor.WithMetrics(d.metrics))
}

// loadDeps builds deps from the config file. Tests replace it.
var loadDeps = defaultDeps

func defaultDeps() (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	runner := executor.NewRunner(executor.WithRateLimit(cfg.CommandRate, int(cfg.CommandRate)+1))
	adapter, err := platform.Default(runner).Adapter()
	if err != nil {
		return nil, err
	}

	sc := scanner.New(adapter, runner,
		scanner.WithTTL(cfg.CacheTTL),
		scanner.WithDevRange(cfg.DevRange),
		scanner.WithMetrics(m),
	)
	return &deps{
		cfg:     cfg,
		metrics: m,
		scanner: sc,
		actions: actions.New(sc, adapter, actions.WithMetrics(m)),
	}, nil
}

// parsePort parses a command-line port argument.
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: must be a number", s)
	}
	if port < portscan.MinPort || port > portscan.MaxPort {
		return 0, fmt.Errorf("invalid port %d: must be between %d and %d", port, portscan.MinPort, portscan.MaxPort)
	}
	return port, nil
}

// signalContext returns a context canceled on interrupt or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
