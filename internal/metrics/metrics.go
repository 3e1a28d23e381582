// Package metrics exposes watcher counters and gauges to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graaaaa/valheim-watcher/internal/derive"
	"github.com/graaaaa/valheim-watcher/internal/event"
	"github.com/graaaaa/valheim-watcher/internal/parser"
)

const namespace = "valheim_watcher"

// Metrics holds the watcher's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	linesRead         prometheus.Counter
	events            *prometheus.CounterVec
	duplicates        prometheus.Counter
	parseFailures     *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	saveDuration      prometheus.Histogram
	identifiedPeers   prometheus.Gauge
	pendingPeers      prometheus.Gauge
	pendingCharacters prometheus.Gauge

	serverUp     prometheus.Gauge
	serverRSS    prometheus.Gauge
	serverCPU    prometheus.Gauge
	serverThread prometheus.Gauge
	hostMemUsed  prometheus.Gauge
}

// New creates and registers all collectors, including the Go runtime and
// process collectors for the watcher itself.
func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.linesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_read_total",
		Help:      "Server log lines read",
	})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Parsed server events by kind",
	}, []string{"kind"})
	m.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_duplicate_total",
		Help:      "Events already present in the history (re-read lines)",
	})
	m.parseFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_failures_total",
		Help:      "Lines that matched a known shape but failed to convert",
	}, []string{"kind"})
	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Correlator notifications by type",
	}, []string{"type"})
	m.saveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "world_save_duration_milliseconds",
		Help:      "World save duration reported by the server",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
	m.identifiedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "identified_peers",
		Help:      "Peers currently bound to a character",
	})
	m.pendingPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_peers",
		Help:      "Connected peers not yet matched to a character",
	})
	m.pendingCharacters = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_characters",
		Help:      "Spawned characters not yet matched to a peer",
	})

	m.serverUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "up",
		Help:      "1 while the supervised server process is running",
	})
	m.serverRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "resident_memory_bytes",
		Help:      "Resident memory of the start script and all its descendants",
	})
	m.serverCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "cpu_percent",
		Help:      "CPU usage of the server process tree since the previous sample",
	})
	m.serverThread = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "threads",
		Help:      "Threads across the server process tree",
	})
	m.hostMemUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "host",
		Name:      "memory_used_percent",
		Help:      "Host memory in use",
	})

	m.reg.MustRegister(
		m.linesRead, m.events, m.duplicates, m.parseFailures, m.notifications,
		m.saveDuration, m.identifiedPeers, m.pendingPeers, m.pendingCharacters,
		m.serverUp, m.serverRSS, m.serverCPU, m.serverThread, m.hostMemUsed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Every kind shows up at zero before the first event.
	for _, k := range event.Kinds() {
		m.events.WithLabelValues(string(k))
	}

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// LineRead counts one raw line.
func (m *Metrics) LineRead() {
	m.linesRead.Inc()
}

// ObserveEvent counts a parsed event. fresh is false for a re-read line.
func (m *Metrics) ObserveEvent(e event.Event, fresh bool) {
	if !fresh {
		m.duplicates.Inc()
		return
	}
	m.events.WithLabelValues(string(e.Kind())).Inc()
	if ws, ok := e.(event.WorldPersisted); ok {
		m.saveDuration.Observe(ws.DurationMS)
	}
}

// ObserveParseFailure counts a failed line by parser error kind.
func (m *Metrics) ObserveParseFailure(err error) {
	kind := "unknown"
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		kind = pe.Kind.String()
	}
	m.parseFailures.WithLabelValues(kind).Inc()
}

// ObserveNotifications counts notifications by type.
func (m *Metrics) ObserveNotifications(notes []derive.Notification) {
	for _, n := range notes {
		m.notifications.WithLabelValues(n.Type.String()).Inc()
	}
}

// ObserveState sets the correlator gauges from a snapshot.
func (m *Metrics) ObserveState(s derive.Snapshot) {
	m.identifiedPeers.Set(float64(len(s.Identities)))
	m.pendingPeers.Set(float64(len(s.PendingPeers)))
	m.pendingCharacters.Set(float64(len(s.PendingCharacters)))
}
