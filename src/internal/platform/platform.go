// Package platform turns the host's socket-listing utilities into
// portscan.PortRecord values. Each supported operating system has its own
// Adapter; a Selector picks one per process lifetime.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/jongio/portwatch/src/internal/executor"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/portscan"
)

// ErrUnsupportedPlatform is returned for operating systems without an adapter.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Adapter is the per-OS capability set.
type Adapter interface {
	// Name identifies the adapter, e.g. "darwin".
	Name() string
	// ListCommand returns the enumeration command. The range is a hint the
	// underlying utility may ignore; callers still filter.
	ListCommand(r portscan.Range) executor.Command
	// Parse converts enumeration output into records. Malformed lines are
	// skipped and secondary lookups degrade per record; Parse never fails.
	Parse(ctx context.Context, output string) []portscan.PortRecord
	// Terminate asks the process to exit, forcibly when force is set. A
	// process that does not exist yields false, not an error.
	Terminate(ctx context.Context, pid int, force bool) bool
	// RequiresElevation reports whether terminating pid needs privileges the
	// current process lacks. Unknown ownership reports false.
	RequiresElevation(ctx context.Context, pid int) bool
}

// Redetector is implemented by adapters that detect their enumeration
// utility once and can be told to detect it again after it went missing.
type Redetector interface {
	Redetect()
}

// Option customizes adapter construction.
type Option func(*options)

type options struct {
	inspector  ProcessInspector
	privileged func() bool
	lookPath   func(string) (string, error)
	readFile   func(string) ([]byte, error)
	procRoot   string
}

func defaultOptions() options {
	return options{
		inspector:  NewProcessInspector(),
		privileged: currentProcessPrivileged,
		lookPath:   exec.LookPath,
		readFile:   os.ReadFile,
		procRoot:   "/proc",
	}
}

// WithInspector replaces the gopsutil-backed process inspector.
func WithInspector(inspector ProcessInspector) Option {
	return func(o *options) { o.inspector = inspector }
}

// WithPrivilegeCheck replaces the check for whether the current process is
// already root or an elevated administrator.
func WithPrivilegeCheck(privileged func() bool) Option {
	return func(o *options) { o.privileged = privileged }
}

// WithLookPath replaces exec.LookPath for utility probing.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(o *options) { o.lookPath = lookPath }
}

// WithProcFS makes the Linux adapter read process details from root using readFile.
func WithProcFS(root string, readFile func(string) ([]byte, error)) Option {
	return func(o *options) {
		o.procRoot = root
		o.readFile = readFile
	}
}

// New builds the adapter for goos without caching it.
func New(goos string, runner executor.Runner, opts ...Option) (Adapter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := base{runner: runner, inspector: o.inspector, privileged: o.privileged}
	switch goos {
	case "darwin":
		return &DarwinAdapter{base: b}, nil
	case "windows":
		return &WindowsAdapter{base: b}, nil
	case "linux":
		return &LinuxAdapter{base: b, lookPath: o.lookPath, readFile: o.readFile, procRoot: o.procRoot}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}

// Selector constructs the adapter for one operating system on first use and
// hands out the same instance afterwards.
type Selector struct {
	mu      sync.Mutex
	goos    string
	runner  executor.Runner
	opts    []Option
	adapter Adapter
}

// NewSelector creates a Selector for goos (normally runtime.GOOS).
func NewSelector(goos string, runner executor.Runner, opts ...Option) *Selector {
	return &Selector{goos: goos, runner: runner, opts: opts}
}

// Default creates a Selector for the running operating system.
func Default(runner executor.Runner, opts ...Option) *Selector {
	return NewSelector(runtime.GOOS, runner, opts...)
}

// Adapter returns the cached adapter, constructing it on the first call.
func (s *Selector) Adapter() (Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adapter != nil {
		return s.adapter, nil
	}

	a, err := New(s.goos, s.runner, s.opts...)
	if err != nil {
		return nil, err
	}
	logging.Debug("platform adapter selected", "adapter", a.Name())
	s.adapter = a
	return a, nil
}

// Reset drops the cached adapter so the next call constructs a new one.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapter = nil
}

// base carries what every adapter shares: the command runner and the
// ownership/signal primitives.
type base struct {
	runner     executor.Runner
	inspector  ProcessInspector
	privileged func() bool
}

// RequiresElevation implements Adapter for all platforms.
func (b *base) RequiresElevation(ctx context.Context, pid int) bool {
	if b.privileged != nil && b.privileged() {
		return false
	}

	owner, err := b.inspector.Username(ctx, pid)
	if err != nil {
		logging.Debug("process owner lookup failed", "pid", pid, "error", err)
		return false
	}
	return IsPrivilegedAccount(owner)
}

// signal delivers SIGTERM or SIGKILL through the inspector.
func (b *base) signal(ctx context.Context, pid int, force bool) bool {
	if err := b.inspector.Signal(ctx, pid, force); err != nil {
		logging.Debug("signal failed", "pid", pid, "force", force, "error", err)
		return false
	}
	return true
}

// IsPrivilegedAccount matches account names that belong to the system rather
// than an interactive user: root, SYSTEM, NT AUTHORITY\*, the Windows service
// accounts and the underscore-prefixed macOS daemons.
func IsPrivilegedAccount(name string) bool {
	n := strings.TrimSpace(name)
	if n == "" {
		return false
	}

	upper := strings.ToUpper(n)
	switch {
	case n == "root", upper == "SYSTEM":
		return true
	case strings.HasPrefix(upper, `NT AUTHORITY\`), strings.HasPrefix(upper, "NT AUTHORITY/"):
		return true
	case upper == "LOCAL SERVICE", upper == "NETWORK SERVICE":
		return true
	case strings.HasPrefix(n, "_"):
		return true
	}
	return false
}
