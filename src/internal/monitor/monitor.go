// Package monitor polls the development port range on an interval and
// publishes added, removed and updated events to subscribers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/metrics"
	"github.com/jongio/portwatch/src/internal/portscan"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// DefaultInterval is the poll interval used when Start gets a non-positive one.
	DefaultInterval = 5 * time.Second

	defaultMaxFailures = 5
)

var (
	// ErrNotRunning is returned by Refresh while the monitor is idle.
	ErrNotRunning = errors.New("monitor is not running")
	// ErrRefreshLimited is returned when Refresh is called more than once per second.
	ErrRefreshLimited = errors.New("refresh rate limit exceeded")
)

// Source produces the records the monitor watches.
type Source interface {
	ScanDevRange(ctx context.Context) ([]portscan.PortRecord, error)
}

// cacheClearer is implemented by sources that cache results; Refresh clears
// the cache so a manual refresh always sees fresh data.
type cacheClearer interface {
	ClearCache()
}

// Handlers receives change events. Nil callbacks are skipped.
type Handlers struct {
	OnAdded   func(rec portscan.PortRecord)
	OnRemoved func(rec portscan.PortRecord)
	OnUpdated func(previous, current portscan.PortRecord)
}

type subscriber struct {
	id       int
	handlers Handlers
	ch       chan Event
}

// Monitor is Idle until Start and Running until Stop or Cleanup. It is safe
// for concurrent use. Handlers run on the polling goroutine, one at a time,
// and never while the monitor's locks are held.
type Monitor struct {
	source  Source
	metrics *metrics.Metrics
	breaker *gobreaker.CircuitBreaker
	refresh *rate.Limiter

	maxFailures uint32
	openTimeout time.Duration

	mu         sync.Mutex
	running    bool
	generation uint64
	cancel     context.CancelFunc
	snapshot   portscan.Snapshot

	// tickMu serializes polling cycles from the ticker and Refresh.
	tickMu sync.Mutex

	subMu  sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics records ticks, events and snapshot size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) {
		mon.metrics = m
	}
}

// WithBreaker sets how many consecutive failed ticks open the circuit and how
// long it stays open before a trial tick. By default the circuit only
// quiets logging: every tick after it opens is a trial, so polling recovers
// on the first tick whose scan succeeds.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(mon *Monitor) {
		if maxFailures > 0 {
			mon.maxFailures = maxFailures
		}
		if openTimeout > 0 {
			mon.openTimeout = openTimeout
		}
	}
}

// WithRefreshLimit sets the rate of manual refreshes.
func WithRefreshLimit(limit rate.Limit, burst int) Option {
	return func(mon *Monitor) {
		mon.refresh = rate.NewLimiter(limit, burst)
	}
}

// New creates an idle Monitor over source.
func New(source Source, opts ...Option) *Monitor {
	m := &Monitor{
		source:      source,
		refresh:     rate.NewLimiter(rate.Every(time.Second), 1),
		maxFailures: defaultMaxFailures,
		snapshot:    portscan.Snapshot{},
		subs:        make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(m)
	}

	maxFailures := m.maxFailures
	// gobreaker treats a zero Timeout as 60s.
	openTimeout := m.openTimeout
	if openTimeout <= 0 {
		openTimeout = time.Nanosecond
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "monitor-scan",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch {
			case from == gobreaker.StateClosed && to == gobreaker.StateOpen:
				logging.Warn("port scans keep failing, circuit open",
					"breaker", name,
					"failures", maxFailures)
			case to == gobreaker.StateClosed:
				logging.Info("port scans recovered, circuit closed", "breaker", name)
			default:
				logging.Debug("monitor circuit breaker changed state",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			}
		},
	})
	return m
}

// Start scans once, stores the result as the current snapshot and begins
// polling every interval. It returns the initial records. Calling Start on a
// running monitor returns the current records without scanning. Polling
// stops on Stop, Cleanup or when ctx is done.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) ([]portscan.PortRecord, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.mu.Lock()
	if m.running {
		records := m.snapshot.Records()
		m.mu.Unlock()
		return records, nil
	}
	m.mu.Unlock()

	records, err := m.source.ScanDevRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial scan: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return m.snapshot.Records(), nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.generation++
	m.cancel = cancel
	m.snapshot = portscan.NewSnapshot(records)
	m.metrics.SetRecords(len(m.snapshot))

	go m.loop(loopCtx, m.generation, interval)

	logging.Info("port monitor started",
		"interval", interval.String(),
		"records", len(m.snapshot))
	return m.snapshot.Records(), nil
}

// Stop halts polling. A tick already in flight is discarded when it
// completes. Stopping an idle monitor logs a warning and does nothing.
func (m *Monitor) Stop() {
	if !m.stop() {
		logging.Warn("port monitor is not running")
		return
	}
	logging.Info("port monitor stopped")
}

func (m *Monitor) stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	m.running = false
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return true
}

// Cleanup stops the monitor, clears the snapshot and drops every
// subscriber. Channel subscriptions are closed.
func (m *Monitor) Cleanup() {
	m.stop()

	m.mu.Lock()
	m.snapshot = portscan.Snapshot{}
	m.mu.Unlock()
	m.metrics.SetRecords(0)

	m.subMu.Lock()
	for id, sub := range m.subs {
		if sub.ch != nil {
			close(sub.ch)
		}
		delete(m.subs, id)
	}
	m.subMu.Unlock()
}

// IsActive reports whether the monitor is running.
func (m *Monitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// CurrentPorts returns the current snapshot's records sorted by key.
func (m *Monitor) CurrentPorts() []portscan.PortRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Records()
}

// Refresh runs a polling cycle immediately, bypassing the source's cache.
// At most one refresh per second is allowed.
func (m *Monitor) Refresh(ctx context.Context) error {
	m.mu.Lock()
	running, gen := m.running, m.generation
	m.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	if !m.refresh.Allow() {
		return ErrRefreshLimited
	}
	if c, ok := m.source.(cacheClearer); ok {
		c.ClearCache()
	}
	return m.tick(ctx, gen)
}

// Subscribe registers handlers and returns a function that removes them.
func (m *Monitor) Subscribe(h Handlers) (unsubscribe func()) {
	sub := m.addSubscriber(&subscriber{handlers: h})
	var once sync.Once
	return func() {
		once.Do(func() { m.removeSubscriber(sub.id) })
	}
}

// SubscribeChan returns a channel receiving every event. When the channel's
// buffer is full, events for it are dropped rather than delaying the poll.
// The channel is closed by unsubscribe or Cleanup.
func (m *Monitor) SubscribeChan(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := m.addSubscriber(&subscriber{ch: make(chan Event, buffer)})
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { m.removeSubscriber(sub.id) })
	}
}

func (m *Monitor) addSubscriber(sub *subscriber) *subscriber {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextID++
	sub.id = m.nextID
	m.subs[sub.id] = sub
	return sub
}

func (m *Monitor) removeSubscriber(id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return
	}
	if sub.ch != nil {
		close(sub.ch)
	}
	delete(m.subs, id)
}

func (m *Monitor) loop(ctx context.Context, gen uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer func() {
		// The parent context ended without Stop; go back to Idle.
		m.mu.Lock()
		if m.running && m.generation == gen {
			m.running = false
			m.generation++
			m.cancel = nil
		}
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.tick(ctx, gen)
		}
	}
}

// tick runs one polling cycle for generation gen. A result that arrives
// after the generation moved on is discarded.
func (m *Monitor) tick(ctx context.Context, gen uint64) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	result, err := m.breaker.Execute(func() (interface{}, error) {
		return m.source.ScanDevRange(ctx)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			m.metrics.ObserveTick("skipped")
			logging.Debug("monitor tick skipped, circuit open")
		case ctx.Err() != nil:
			m.metrics.ObserveTick("discarded")
		case m.breaker.State() != gobreaker.StateClosed:
			// Already reported when the circuit opened.
			m.metrics.ObserveTick("error")
			logging.Debug("monitor tick failed", "error", err)
		default:
			m.metrics.ObserveTick("error")
			logging.Warn("monitor tick failed", "error", err)
		}
		return err
	}

	next := portscan.NewSnapshot(result.([]portscan.PortRecord))

	m.mu.Lock()
	if !m.running || m.generation != gen {
		m.mu.Unlock()
		m.metrics.ObserveTick("discarded")
		logging.Debug("monitor tick discarded after stop")
		return nil
	}
	events := Diff(m.snapshot, next)
	m.snapshot = next
	m.mu.Unlock()

	m.metrics.ObserveTick("ok")
	m.metrics.SetRecords(len(next))
	if len(events) > 0 {
		logging.Debug("port changes detected", "events", len(events))
	}
	m.publish(events)
	return nil
}

func (m *Monitor) publish(events []Event) {
	if len(events) == 0 {
		return
	}

	m.subMu.RLock()
	handlers := make([]*subscriber, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.ch == nil {
			handlers = append(handlers, sub)
			continue
		}
		for _, ev := range events {
			select {
			case sub.ch <- ev:
			default:
				logging.Warn("subscriber buffer full, dropping event",
					"subscriber", sub.id,
					"event", string(ev.Type),
					"key", ev.Record.Key().String())
			}
		}
	}
	m.subMu.RUnlock()

	sort.Slice(handlers, func(i, j int) bool { return handlers[i].id < handlers[j].id })

	for _, ev := range events {
		m.metrics.ObserveEvent(string(ev.Type))
		for _, sub := range handlers {
			dispatch(sub, ev)
		}
	}
}

func dispatch(sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("subscriber handler panicked",
				"subscriber", sub.id,
				"event", string(ev.Type),
				"panic", fmt.Sprint(r))
		}
	}()

	h := sub.handlers
	switch ev.Type {
	case EventAdded:
		if h.OnAdded != nil {
			h.OnAdded(ev.Record)
		}
	case EventRemoved:
		if h.OnRemoved != nil {
			h.OnRemoved(ev.Record)
		}
	case EventUpdated:
		if h.OnUpdated != nil && ev.Previous != nil {
			h.OnUpdated(*ev.Previous, ev.Record)
		}
	}
}
