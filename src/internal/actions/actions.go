// Package actions performs the operations users take on a port: terminating
// the owning process, opening it in a browser and checking availability.
// Every operation reports its outcome as a value and never panics.
package actions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/metrics"
	"github.com/jongio/portwatch/src/internal/platform"
	"github.com/jongio/portwatch/src/internal/portscan"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/browser"
)

const (
	// DefaultReleaseTimeout bounds the wait for a port to be released after
	// its process was terminated.
	DefaultReleaseTimeout = 2 * time.Second

	releaseInitialInterval = 50 * time.Millisecond
	releaseMaxInterval     = 500 * time.Millisecond
	releaseMultiplier      = 2.0
)

// httpsPorts are opened with https when no protocol is given.
var httpsPorts = []int{443, 8443, 9443}

// Reason classifies an unsuccessful Result.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotFound          Reason = "not_found"
	ReasonElevationRequired Reason = "elevation_required"
	ReasonInvalidPort       Reason = "invalid_port"
	ReasonError             Reason = "error"
)

// Result is the outcome of an action.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Reason      Reason `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
	Port        int    `json:"port"`
	PID         int    `json:"pid,omitempty"`
	ProcessName string `json:"processName,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Scanner is the lookup surface actions need.
type Scanner interface {
	Lookup(ctx context.Context, port int) (*portscan.PortRecord, error)
	ClearCache()
}

// BrowserOpener opens a URL in the user's browser.
type BrowserOpener interface {
	Open(url string) error
}

// BrowserFunc adapts a function to BrowserOpener.
type BrowserFunc func(url string) error

// Open implements BrowserOpener.
func (f BrowserFunc) Open(url string) error { return f(url) }

// SystemBrowser opens URLs with the operating system's default browser.
var SystemBrowser BrowserOpener = BrowserFunc(browser.OpenURL)

var errPortHeld = errors.New("port still held")

// Executor runs actions against the processes a Scanner reports.
type Executor struct {
	scanner        Scanner
	adapter        platform.Adapter
	browser        BrowserOpener
	metrics        *metrics.Metrics
	releaseTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithBrowser replaces the system browser.
func WithBrowser(b BrowserOpener) Option {
	return func(e *Executor) {
		e.browser = b
	}
}

// WithMetrics counts action outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithReleaseTimeout sets how long Terminate waits for the port to be
// released. Zero skips the wait.
func WithReleaseTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.releaseTimeout = d
	}
}

// New creates an Executor.
func New(scanner Scanner, adapter platform.Adapter, opts ...Option) *Executor {
	e := &Executor{
		scanner:        scanner,
		adapter:        adapter,
		browser:        SystemBrowser,
		releaseTimeout: DefaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Terminate stops the process holding port. Without force the process is
// asked to exit; with force it is killed. Processes owned by privileged
// accounts are not touched unless portwatch itself runs elevated.
func (e *Executor) Terminate(ctx context.Context, port int, force bool) Result {
	result := e.terminate(ctx, port, force)
	e.metrics.ObserveAction("terminate", outcome(result))
	return result
}

func (e *Executor) terminate(ctx context.Context, port int, force bool) Result {
	rec, err := e.scanner.Lookup(ctx, port)
	if err != nil {
		return Result{
			Port:    port,
			Reason:  ReasonError,
			Message: fmt.Sprintf("failed to look up port %d", port),
			Error:   err.Error(),
		}
	}
	if rec == nil {
		return Result{
			Port:    port,
			Reason:  ReasonNotFound,
			Message: fmt.Sprintf("no process found on port %d", port),
		}
	}

	base := Result{Port: port, PID: rec.PID, ProcessName: rec.ProcessName}

	if e.adapter.RequiresElevation(ctx, rec.PID) {
		base.Reason = ReasonElevationRequired
		base.Message = fmt.Sprintf("%s (PID %d) on port %d is owned by a system account; run portwatch with elevated privileges to terminate it",
			rec.ProcessName, rec.PID, port)
		return base
	}

	if !e.adapter.Terminate(ctx, rec.PID, force) {
		base.Reason = ReasonError
		base.Message = fmt.Sprintf("failed to terminate %s (PID %d) on port %d", rec.ProcessName, rec.PID, port)
		base.Error = "process could not be signaled; it may have already exited"
		return base
	}

	logging.Info("process terminated",
		"port", port,
		"pid", rec.PID,
		"process", rec.ProcessName,
		"force", force)

	base.Success = true
	base.Message = fmt.Sprintf("terminated %s (PID %d) on port %d", rec.ProcessName, rec.PID, port)
	switch err := e.waitForRelease(ctx, port, rec.PID); {
	case errors.Is(err, errPortHeld):
		base.Message += "; the port is still in use"
	case err != nil:
		base.Message += "; could not confirm the port was released"
		logging.Warn("release check failed after terminate", "port", port, "pid", rec.PID, "error", err)
	}
	e.scanner.ClearCache()
	return base
}

// waitForRelease polls with exponential backoff until no record for pid
// holds port. It returns errPortHeld when the timeout passes first and the
// lookup or context error when the check itself failed.
func (e *Executor) waitForRelease(ctx context.Context, port, pid int) error {
	if e.releaseTimeout <= 0 {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = releaseInitialInterval
	b.MaxInterval = releaseMaxInterval
	b.Multiplier = releaseMultiplier
	b.MaxElapsedTime = e.releaseTimeout

	operation := func() error {
		rec, err := e.scanner.Lookup(ctx, port)
		if err != nil {
			return backoff.Permanent(err)
		}
		if rec != nil && rec.PID == pid {
			return errPortHeld
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		logging.Debug("port not released after terminate", "port", port, "pid", pid, "error", err)
		return err
	}
	return nil
}

// OpenInBrowser opens http(s)://localhost:port. An empty protocol picks
// https for the usual TLS ports and http otherwise.
func (e *Executor) OpenInBrowser(ctx context.Context, port int, protocol string) Result {
	result := e.openInBrowser(ctx, port, protocol)
	e.metrics.ObserveAction("open", outcome(result))
	return result
}

func (e *Executor) openInBrowser(ctx context.Context, port int, protocol string) Result {
	if port < portscan.MinPort || port > portscan.MaxPort {
		return Result{
			Port:    port,
			Reason:  ReasonInvalidPort,
			Message: fmt.Sprintf("port %d is outside %d-%d", port, portscan.MinPort, portscan.MaxPort),
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{Port: port, Reason: ReasonError, Message: "open canceled", Error: err.Error()}
	}

	url := BrowserURL(port, protocol)
	if err := e.browser.Open(url); err != nil {
		return Result{
			Port:    port,
			URL:     url,
			Reason:  ReasonError,
			Message: fmt.Sprintf("failed to open %s", url),
			Error:   err.Error(),
		}
	}
	return Result{Success: true, Port: port, URL: url, Message: fmt.Sprintf("opened %s", url)}
}

// BrowserURL builds the URL OpenInBrowser opens.
func BrowserURL(port int, protocol string) string {
	if protocol == "" {
		protocol = "http"
		if slices.Contains(httpsPorts, port) {
			protocol = "https"
		}
	}
	return fmt.Sprintf("%s://localhost:%d", protocol, port)
}

// IsAvailable reports whether no process holds port. A failed lookup
// reports the port as unavailable.
func (e *Executor) IsAvailable(ctx context.Context, port int) bool {
	rec, err := e.scanner.Lookup(ctx, port)
	if err != nil {
		logging.Debug("availability check failed", "port", port, "error", err)
		return false
	}
	return rec == nil
}

func outcome(r Result) string {
	if r.Success {
		return "success"
	}
	if r.Reason == ReasonNone {
		return string(ReasonError)
	}
	return string(r.Reason)
}
