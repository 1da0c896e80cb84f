// Package scanner answers "which processes hold which ports" on top of a
// platform adapter, with a short-lived cache per requested range.
package scanner

import (
	"context"
	"slices"
	"time"

	"github.com/jongio/portwatch/src/internal/executor"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/metrics"
	"github.com/jongio/portwatch/src/internal/platform"
	"github.com/jongio/portwatch/src/internal/portscan"

	"github.com/patrickmn/go-cache"
)

const (
	// DefaultTTL is how long a scan result is served from cache.
	DefaultTTL = 3 * time.Second

	// MinScanPort is the lowest port Scan and Lookup accept. Well-known
	// ports are out of scope.
	MinScanPort = 1024
)

// FullRange is every port Scan accepts. Callers use it when no range was
// requested.
var FullRange = portscan.Range{Start: MinScanPort, End: portscan.MaxPort}

// DevRange is the range ScanDevRange covers by default.
var DevRange = portscan.Range{Start: 3000, End: 9999}

// Scanner runs the platform adapter's enumeration command and caches the
// filtered result per (start, end). It is safe for concurrent use;
// concurrent misses for the same range each run the command.
type Scanner struct {
	adapter  platform.Adapter
	runner   executor.Runner
	cache    *cache.Cache
	ttl      time.Duration
	devRange portscan.Range
	metrics  *metrics.Metrics
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithTTL sets the cache lifetime. A non-positive ttl keeps the default.
func WithTTL(ttl time.Duration) Option {
	return func(s *Scanner) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithDevRange changes the range ScanDevRange covers. A zero range keeps
// the default.
func WithDevRange(r portscan.Range) Option {
	return func(s *Scanner) {
		if !r.IsZero() {
			s.devRange = r
		}
	}
}

// WithMetrics records scan outcomes, cache lookups and command durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// New creates a Scanner that runs adapter commands through runner.
func New(adapter platform.Adapter, runner executor.Runner, opts ...Option) *Scanner {
	s := &Scanner{
		adapter:  adapter,
		runner:   runner,
		ttl:      DefaultTTL,
		devRange: DevRange,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.New(s.ttl, 2*s.ttl)
	return s
}

// Adapter returns the platform adapter the scanner uses.
func (s *Scanner) Adapter() platform.Adapter {
	return s.adapter
}

// Scan returns the records whose port lies in [start, end], sorted by port,
// protocol and pid. Results are cached for the configured TTL.
func (s *Scanner) Scan(ctx context.Context, start, end int) ([]portscan.PortRecord, error) {
	if err := validateRange(start, end); err != nil {
		s.metrics.ObserveScan(string(err.Kind))
		return nil, err
	}

	r := portscan.Range{Start: start, End: end}
	key := r.String()

	if cached, ok := s.cache.Get(key); ok {
		s.metrics.ObserveCache(true)
		logging.Debug("scan cache hit", "range", key)
		return slices.Clone(cached.([]portscan.PortRecord)), nil
	}
	s.metrics.ObserveCache(false)

	records, err := s.enumerate(ctx, r)
	if err != nil {
		return nil, err
	}

	records = portscan.Filter(records, r)
	s.cache.Set(key, records, cache.DefaultExpiration)
	return slices.Clone(records), nil
}

// ScanDevRange scans the development range, 3000-9999 unless configured
// otherwise.
func (s *Scanner) ScanDevRange(ctx context.Context) ([]portscan.PortRecord, error) {
	return s.Scan(ctx, s.devRange.Start, s.devRange.End)
}

// Lookup returns the first record holding port, or nil when the port is
// free. It always runs a fresh, unranged enumeration.
func (s *Scanner) Lookup(ctx context.Context, port int) (*portscan.PortRecord, error) {
	if port < MinScanPort || port > portscan.MaxPort {
		err := validationError("port %d is outside %d-%d", port, MinScanPort, portscan.MaxPort)
		s.metrics.ObserveScan(string(err.Kind))
		return nil, err
	}

	records, err := s.enumerate(ctx, portscan.Range{})
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Port == port {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// ClearCache drops every cached scan result.
func (s *Scanner) ClearCache() {
	s.cache.Flush()
}

// enumerate runs the adapter command and parses its output. Failures are
// classified here and nowhere else.
func (s *Scanner) enumerate(ctx context.Context, r portscan.Range) ([]portscan.PortRecord, error) {
	cmd := s.adapter.ListCommand(r)

	start := time.Now()
	res, err := s.runner.Run(ctx, cmd)
	s.metrics.ObserveCommand(cmd.Name, time.Since(start))

	if scanErr := classify(cmd, res, err); scanErr != nil {
		s.metrics.ObserveScan(string(scanErr.Kind))
		logging.Warn("port scan failed",
			"command", cmd.String(),
			"kind", string(scanErr.Kind),
			"error", scanErr)

		if scanErr.Kind == KindCommandNotFound {
			if rd, ok := s.adapter.(platform.Redetector); ok {
				rd.Redetect()
			}
		}
		return nil, scanErr
	}

	var out string
	if res != nil {
		out = res.Stdout
	}
	records := s.adapter.Parse(ctx, out)
	portscan.SortRecords(records)
	s.metrics.ObserveScan("ok")
	logging.Debug("port scan completed",
		"adapter", s.adapter.Name(),
		"range", r.String(),
		"records", len(records))
	return records, nil
}

func validateRange(start, end int) *Error {
	switch {
	case start < MinScanPort:
		return validationError("start port %d is below %d", start, MinScanPort)
	case end > portscan.MaxPort:
		return validationError("end port %d is above %d", end, portscan.MaxPort)
	case start > end:
		return validationError("start port %d is greater than end port %d", start, end)
	}
	return nil
}
