// Package metrics exposes Prometheus collectors for scans, the scan cache,
// the monitor loop and process actions. A nil *Metrics is valid and records
// nothing, so components can be built without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portwatch"

// Metrics holds every collector on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Scans           *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	MonitorTicks    *prometheus.CounterVec
	MonitorEvents   *prometheus.CounterVec
	MonitorRecords  prometheus.Gauge
	Actions         *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Port scans by outcome (ok or the error kind).",
		}, []string{"outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cache_lookups_total",
			Help:      "Scan cache lookups by result (hit or miss).",
		}, []string{"result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of platform enumeration commands.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"command"}),
		MonitorTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_ticks_total",
			Help:      "Monitor poll cycles by outcome (ok, error, skipped, discarded).",
		}, []string{"outcome"}),
		MonitorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_events_total",
			Help:      "Change events published by the monitor.",
		}, []string{"type"}),
		MonitorRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_records",
			Help:      "Records in the monitor's current snapshot.",
		}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Process actions by action and outcome.",
		}, []string{"action", "outcome"}),
	}

	m.Registry.MustRegister(
		m.Scans,
		m.CacheLookups,
		m.CommandDuration,
		m.MonitorTicks,
		m.MonitorEvents,
		m.MonitorRecords,
		m.Actions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveScan counts a scan outcome.
func (m *Metrics) ObserveScan(outcome string) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(outcome).Inc()
}

// ObserveCache counts a cache hit or miss.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveCommand records how long an enumeration command ran.
func (m *Metrics) ObserveCommand(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ObserveTick counts a monitor cycle.
func (m *Metrics) ObserveTick(outcome string) {
	if m == nil {
		return
	}
	m.MonitorTicks.WithLabelValues(outcome).Inc()
}

// ObserveEvent counts a published change event.
func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.MonitorEvents.WithLabelValues(eventType).Inc()
}

// SetRecords records the size of the current snapshot.
func (m *Metrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.MonitorRecords.Set(float64(n))
}

// ObserveAction counts a process action outcome.
func (m *Metrics) ObserveAction(action, outcome string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, outcome).Inc()
}
