package executor

import (
	"context"
	"fmt"
	"sync"
)

// Response is a canned outcome for FakeRunner.
type Response struct {
	Result *Result
	Err    error
}

// FakeRunner replays canned responses keyed by the command's String form.
// It records every call and is safe for concurrent use.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	fallback  *Response
	calls     []Command
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]Response)}
}

// Stdout registers a successful response for the command line.
func (f *FakeRunner) Stdout(cmdline, stdout string) *FakeRunner {
	return f.Respond(cmdline, Response{Result: &Result{Stdout: stdout}})
}

// Respond registers a response for the command line.
func (f *FakeRunner) Respond(cmdline string, resp Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmdline] = resp
	return f
}

// Fallback registers the response used for unknown commands. Without one,
// unknown commands fail with a not-found style error.
func (f *FakeRunner) Fallback(resp Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = &resp
	return f
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)

	resp, ok := f.responses[cmd.String()]
	if !ok {
		if f.fallback == nil {
			return &Result{Command: cmd, ExitCode: 127},
				fmt.Errorf("exec: %q: executable file not found in $PATH", cmd.Name)
		}
		resp = *f.fallback
	}

	var res *Result
	if resp.Result != nil {
		copied := *resp.Result
		copied.Command = cmd
		res = &copied
	}
	return res, resp.Err
}

// Calls returns the commands run so far.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// CallCount returns how many times the command line was run.
func (f *FakeRunner) CallCount(cmdline string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.String() == cmdline {
			n++
		}
	}
	return n
}
