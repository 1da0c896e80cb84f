package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/jongio/portwatch/src/internal/executor"
)

// Kind identifies a class of scan failure.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindCommandNotFound   Kind = "command_not_found"
	KindPermission        Kind = "permission"
	KindCommandTerminated Kind = "command_terminated"
	KindCommandFailed     Kind = "command_failed"
	KindUnknown           Kind = "unknown"
)

// Error is returned by every Scanner operation that fails.
type Error struct {
	Kind    Kind
	Message string
	// Command is the command line that failed, empty for validation errors.
	Command string
	// Stderr is the diagnostic output of the failed command, if any.
	Stderr string
	Err    error
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrCommandNotFound   = &Error{Kind: KindCommandNotFound}
	ErrPermission        = &Error{Kind: KindPermission}
	ErrCommandTerminated = &Error{Kind: KindCommandTerminated}
	ErrCommandFailed     = &Error{Kind: KindCommandFailed}
	ErrUnknown           = &Error{Kind: KindUnknown}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Command != "" {
		fmt.Fprintf(&b, " (%s)", e.Command)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not a scanner error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

var (
	notFoundMarkers = []string{
		"command not found",
		"executable file not found",
		"no such file or directory",
		"is not recognized as an internal or external command",
	}
	permissionMarkers = []string{
		"permission denied",
		"operation not permitted",
		"access is denied",
		"requires elevation",
	}
)

// classify maps the outcome of an enumeration command to an *Error, or nil
// when the command succeeded. Warnings on stderr alongside real output are
// not failures; lsof prints them routinely.
func classify(cmd executor.Command, res *executor.Result, err error) *Error {
	var stdout, stderr string
	if res != nil {
		stdout, stderr = res.Stdout, strings.TrimSpace(res.Stderr)
	}

	if err == nil {
		if strings.TrimSpace(stdout) == "" && stderr != "" {
			return &Error{Kind: KindCommandFailed, Message: "command reported an error", Command: cmd.String(), Stderr: stderr}
		}
		return nil
	}

	newErr := func(kind Kind, msg string) *Error {
		return &Error{Kind: kind, Message: msg, Command: cmd.String(), Stderr: stderr, Err: err}
	}

	diagnostic := strings.ToLower(stderr + " " + err.Error())
	switch {
	case errors.Is(err, exec.ErrNotFound),
		res != nil && res.ExitCode == 127,
		containsAny(diagnostic, notFoundMarkers):
		return newErr(KindCommandNotFound, fmt.Sprintf("%s is not installed", cmd.Name))
	case errors.Is(err, os.ErrPermission), containsAny(diagnostic, permissionMarkers):
		return newErr(KindPermission, "insufficient permissions to list sockets")
	case res.Signaled(),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return newErr(KindCommandTerminated, "command was terminated")
	case res != nil && (res.ExitCode != 0 || stderr != ""):
		return newErr(KindCommandFailed, fmt.Sprintf("command exited with code %d", res.ExitCode))
	default:
		return newErr(KindUnknown, "command failed")
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
