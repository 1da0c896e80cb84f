package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jongio/portwatch/src/internal/executor"
	"github.com/jongio/portwatch/src/internal/metrics"
	"github.com/jongio/portwatch/src/internal/platform"
	"github.com/jongio/portwatch/src/internal/portscan"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listCmd = "list-sockets"

// stubAdapter returns canned records for any output.
type stubAdapter struct {
	mu        sync.Mutex
	records   []portscan.PortRecord
	ranges    []portscan.Range
	redetects atomic.Int32
}

func (a *stubAdapter) Name() string { return "stub" }

func (a *stubAdapter) ListCommand(r portscan.Range) executor.Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ranges = append(a.ranges, r)
	return executor.Command{Name: listCmd}
}

func (a *stubAdapter) Parse(context.Context, string) []portscan.PortRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]portscan.PortRecord(nil), a.records...)
}

func (a *stubAdapter) Terminate(context.Context, int, bool) bool { return true }

func (a *stubAdapter) RequiresElevation(context.Context, int) bool { return false }

func (a *stubAdapter) Redetect() { a.redetects.Add(1) }

func record(port, pid int, name string) portscan.PortRecord {
	return portscan.PortRecord{
		Port:         port,
		Protocol:     portscan.ProtocolTCP,
		PID:          pid,
		ProcessName:  name,
		State:        "LISTEN",
		LocalAddress: "127.0.0.1",
	}
}

func newStub() *stubAdapter {
	return &stubAdapter{records: []portscan.PortRecord{
		record(8080, 30, "nginx"),
		record(1500, 10, "svc"),
		record(3000, 20, "node"),
		record(5432, 40, "postgres"),
		record(12000, 50, "high"),
	}}
}

func TestScanValidation(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
	}{
		{"below minimum", 1023, 2000},
		{"zero", 0, 0},
		{"inverted", 5000, 4000},
		{"above maximum", 1024, 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := executor.NewFakeRunner().Stdout(listCmd, "")
			s := New(newStub(), runner)

			records, err := s.Scan(context.Background(), tt.start, tt.end)
			require.Error(t, err)
			assert.Nil(t, records)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Empty(t, runner.Calls(), "validation must fail before running a command")
		})
	}
}

func TestScanBoundsAccepted(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner)

	_, err := s.Scan(context.Background(), 1024, 65535)
	require.NoError(t, err)
	_, err = s.Scan(context.Background(), 4000, 4000)
	require.NoError(t, err)
}

func TestScanFiltersAndSorts(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner)

	records, err := s.Scan(context.Background(), 3000, 9999)
	require.NoError(t, err)

	ports := make([]int, len(records))
	for i, r := range records {
		ports[i] = r.Port
		assert.True(t, r.Port >= 3000 && r.Port <= 9999, "port %d outside range", r.Port)
	}
	assert.Equal(t, []int{3000, 5432, 8080}, ports)
}

func TestScanCachesWithinTTL(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner, WithTTL(time.Minute))
	ctx := context.Background()

	first, err := s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)
	second, err := s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, runner.CallCount(listCmd))
}

func TestScanCacheExpires(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner, WithTTL(30*time.Millisecond))
	ctx := context.Background()

	_, err := s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	_, err = s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)

	assert.Equal(t, 2, runner.CallCount(listCmd))
}

func TestScanCachePerRange(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	adapter := newStub()
	s := New(adapter, runner, WithTTL(time.Minute))
	ctx := context.Background()

	_, err := s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)
	wide, err := s.Scan(ctx, 1024, 65535)
	require.NoError(t, err)

	assert.Len(t, wide, 5)
	assert.Equal(t, 2, runner.CallCount(listCmd))
	assert.Equal(t, []portscan.Range{{Start: 3000, End: 9999}, {Start: 1024, End: 65535}}, adapter.ranges)
}

func TestScanDevRange(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner)

	dev, err := s.ScanDevRange(context.Background())
	require.NoError(t, err)
	explicit, err := s.Scan(context.Background(), 3000, 9999)
	require.NoError(t, err)

	assert.Equal(t, explicit, dev)
	assert.Equal(t, 1, runner.CallCount(listCmd), "dev range shares the 3000-9999 cache entry")
}

func TestScanReturnsCopies(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner, WithTTL(time.Minute))
	ctx := context.Background()

	first, err := s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)
	first[0].ProcessName = "mutated"

	second, err := s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)
	assert.Equal(t, "node", second[0].ProcessName)
}

func TestClearCache(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner, WithTTL(time.Minute))
	ctx := context.Background()

	_, err := s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)
	s.ClearCache()
	_, err = s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)

	assert.Equal(t, 2, runner.CallCount(listCmd))
}

func TestLookup(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	adapter := newStub()
	s := New(adapter, runner, WithTTL(time.Minute))
	ctx := context.Background()

	rec, err := s.Lookup(ctx, 5432)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 40, rec.PID)
	assert.Equal(t, "postgres", rec.ProcessName)

	rec, err = s.Lookup(ctx, 12000)
	require.NoError(t, err)
	require.NotNil(t, rec, "lookup is not limited to the dev range")

	rec, err = s.Lookup(ctx, 4000)
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.Equal(t, 3, runner.CallCount(listCmd), "lookup bypasses the cache")
	for _, r := range adapter.ranges {
		assert.True(t, r.IsZero(), "lookup runs an unranged enumeration")
	}
}

func TestLookupValidation(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner)

	for _, port := range []int{0, 80, 1023, 65536} {
		_, err := s.Lookup(context.Background(), port)
		assert.ErrorIs(t, err, ErrValidation, "port %d", port)
	}
	assert.Empty(t, runner.Calls())
}

func TestScanCommandNotFoundRedetects(t *testing.T) {
	runner := executor.NewFakeRunner()
	adapter := newStub()
	s := New(adapter, runner)

	_, err := s.Scan(context.Background(), 3000, 9999)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandNotFound)
	assert.NotErrorIs(t, err, ErrPermission)
	assert.Equal(t, int32(1), adapter.redetects.Load())
}

func TestScanErrorsAreNotCached(t *testing.T) {
	runner := executor.NewFakeRunner().Respond(listCmd, executor.Response{
		Result: &executor.Result{ExitCode: 2, Stderr: "boom"},
		Err:    errors.New("exit status 2"),
	})
	s := New(newStub(), runner, WithTTL(time.Minute))
	ctx := context.Background()

	_, err := s.Scan(ctx, 3000, 9999)
	assert.ErrorIs(t, err, ErrCommandFailed)

	runner.Stdout(listCmd, "")
	records, err := s.Scan(ctx, 3000, 9999)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestScanConcurrent(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner, WithTTL(time.Minute))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := s.ScanDevRange(context.Background())
			assert.NoError(t, err)
			assert.Len(t, records, 3)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, runner.CallCount(listCmd), 1)
}

func TestScanMetrics(t *testing.T) {
	m := metrics.New()
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	s := New(newStub(), runner, WithTTL(time.Minute), WithMetrics(m))
	ctx := context.Background()

	_, _ = s.ScanDevRange(ctx)
	_, _ = s.ScanDevRange(ctx)
	_, _ = s.Scan(ctx, 1, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues(string(KindValidation))))
}

func TestClassify(t *testing.T) {
	cmd := executor.Command{Name: "ss", Args: []string{"-tunap"}}

	tests := []struct {
		name string
		res  *executor.Result
		err  error
		want Kind
	}{
		{
			name: "success",
			res:  &executor.Result{Stdout: "data"},
		},
		{
			name: "warnings next to output",
			res:  &executor.Result{Stdout: "data", Stderr: "lsof: WARNING: can't stat() fuse"},
		},
		{
			name: "empty success",
			res:  &executor.Result{},
		},
		{
			name: "diagnostic without output",
			res:  &executor.Result{Stderr: "ss: unknown option"},
			want: KindCommandFailed,
		},
		{
			name: "exec not found",
			err:  &exec.Error{Name: "ss", Err: exec.ErrNotFound},
			want: KindCommandNotFound,
		},
		{
			name: "exit 127",
			res:  &executor.Result{ExitCode: 127},
			err:  errors.New("exit status 127"),
			want: KindCommandNotFound,
		},
		{
			name: "shell reports command not found",
			res:  &executor.Result{ExitCode: 1, Stderr: "sh: ss: command not found"},
			err:  errors.New("exit status 1"),
			want: KindCommandNotFound,
		},
		{
			name: "permission denied on stderr",
			res:  &executor.Result{ExitCode: 1, Stderr: "Permission denied"},
			err:  errors.New("exit status 1"),
			want: KindPermission,
		},
		{
			name: "windows access denied",
			res:  &executor.Result{ExitCode: 1, Stderr: "Access is denied."},
			err:  errors.New("exit status 1"),
			want: KindPermission,
		},
		{
			name: "os permission error",
			err:  fmt.Errorf("fork/exec /usr/bin/ss: %w", os.ErrPermission),
			want: KindPermission,
		},
		{
			name: "killed by signal",
			res:  &executor.Result{ExitCode: -1, Signal: "killed"},
			err:  errors.New("signal: killed"),
			want: KindCommandTerminated,
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: KindCommandTerminated,
		},
		{
			name: "non-zero exit",
			res:  &executor.Result{ExitCode: 2},
			err:  errors.New("exit status 2"),
			want: KindCommandFailed,
		},
		{
			name: "opaque failure",
			err:  errors.New("boom"),
			want: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(cmd, tt.res, tt.err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, "ss -tunap", got.Command)
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind:    KindCommandFailed,
		Message: "command exited with code 2",
		Command: "netstat -ano",
		Err:     errors.New("exit status 2"),
	}
	assert.Equal(t, "command exited with code 2 (netstat -ano): exit status 2", err.Error())
	assert.Equal(t, "port 80 is outside 1024-65535", validationError("port %d is outside %d-%d", 80, 1024, 65535).Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestScanLinuxFixture(t *testing.T) {
	out, err := os.ReadFile(filepath.Join("..", "platform", "testdata", "ss_linux.txt"))
	require.NoError(t, err)

	runner := executor.NewFakeRunner().Stdout("ss -tunap", string(out))
	adapter, err := platform.New("linux", runner,
		platform.WithLookPath(func(string) (string, error) { return "/usr/bin/ss", nil }),
		platform.WithProcFS("/proc", func(string) ([]byte, error) { return nil, os.ErrNotExist }),
	)
	require.NoError(t, err)
	s := New(adapter, runner)

	records, err := s.ScanDevRange(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, r := range records {
		assert.True(t, r.Port >= 3000 && r.Port <= 9999)
	}

	rec, err := s.Lookup(context.Background(), 5432)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 999, rec.PID)
	assert.Equal(t, "postgres", rec.ProcessName)
}

func TestScanDevRangeConfigured(t *testing.T) {
	runner := executor.NewFakeRunner().Stdout(listCmd, "")
	adapter := newStub()
	s := New(adapter, runner, WithDevRange(portscan.Range{Start: 5000, End: 20000}))

	records, err := s.ScanDevRange(context.Background())
	require.NoError(t, err)

	assert.Len(t, records, 3)
	assert.Equal(t, []portscan.Range{{Start: 5000, End: 20000}}, adapter.ranges)
}
