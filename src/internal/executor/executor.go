// Package executor runs the external platform utilities the adapters depend
// on and captures everything the scanner needs to classify a failure.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jongio/portwatch/src/internal/logging"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single command when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Command describes one invocation of an external utility.
type Command struct {
	Name string
	Args []string
	// OKExitCodes lists non-zero exit codes that still mean success. lsof,
	// for example, exits 1 when nothing matched.
	OKExitCodes []int
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the captured outcome of a command.
type Result struct {
	Command  Command
	Stdout   string
	Stderr   string
	ExitCode int
	// Signal is set when the process was killed by a signal.
	Signal   string
	Duration time.Duration
}

// Signaled reports whether the command was terminated by a signal.
func (r *Result) Signaled() bool {
	return r != nil && r.Signal != ""
}

// Runner runs commands. Adapters depend on this interface so tests can feed
// captured output without touching the host.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec, throttled by a token bucket so that
// a tight polling loop cannot flood the host with process spawns.
type ExecRunner struct {
	limiter *rate.Limiter
	timeout time.Duration
	dir     string
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithRateLimit allows perSecond command starts with the given burst.
// A non-positive perSecond disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *ExecRunner) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *ExecRunner) {
		r.timeout = d
	}
}

// WithDir sets the working directory for every command.
func WithDir(dir string) Option {
	return func(r *ExecRunner) {
		r.dir = dir
	}
}

// NewRunner creates an ExecRunner. By default it allows 10 command starts
// per second with a burst of 10.
func NewRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cmd and returns its captured output. The returned error is
// nil on success (including exit codes listed in OKExitCodes); otherwise it
// is the underlying exec error, and the Result, when non-nil, still carries
// stdout, stderr, the exit code and any terminating signal.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting to run %s: %w", cmd.Name, err)
		}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// #nosec G204 -- command names are fixed per platform adapter, arguments are validated integers or constants
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = r.dir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := &Result{
		Command:  cmd,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		logging.Debug("command completed", "command", cmd.String(), "duration", res.Duration)
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = ws.Signal().String()
		}
		if res.Signal == "" && slices.Contains(cmd.OKExitCodes, res.ExitCode) {
			logging.Debug("command exited with accepted code",
				"command", cmd.String(), "exitCode", res.ExitCode)
			return res, nil
		}
	}

	logging.Debug("command failed",
		"command", cmd.String(),
		"exitCode", res.ExitCode,
		"signal", res.Signal,
		"error", err)
	return res, err
}

// Output runs cmd and returns only stdout, for secondary lookups whose
// failures the caller degrades rather than classifies.
func Output(ctx context.Context, runner Runner, cmd Command) (string, error) {
	res, err := runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
