package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/mm"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
)

const namespace = "kronos"

// Metrics holds the Prometheus collectors of one kernel and its
// introspection server. It implements the kernel's scheduler, memory and IPC
// observers.
type Metrics struct {
	registry *prometheus.Registry

	// Kernel metrics
	Ticks           prometheus.Counter
	ContextSwitches prometheus.Counter
	PageFaults      *prometheus.CounterVec
	SwapTraffic     *prometheus.CounterVec
	SignalsSent     *prometheus.CounterVec
	IPCBlocks       *prometheus.CounterVec

	// Kernel gauges, refreshed by Observe
	Processes       *prometheus.GaugeVec
	FreeFrames      prometheus.Gauge
	SwapUsed        prometheus.Gauge
	RTReady         prometheus.Gauge
	BlockedWaiters  prometheus.Gauge
	MissedDeadlines prometheus.Gauge
	JainIndex       prometheus.Gauge

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current HTTP totals for the JSON API.
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveConnections int64   `json:"active_connections"`
	TotalDuration     float64 `json:"total_duration_seconds"`
	RequestCount      int64   `json:"request_count"`
}

// NewMetrics registers every collector on reg. A nil reg gets a fresh
// registry, so several kernels can coexist in one process.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Timer interrupts handled",
		}),
		ContextSwitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_switches_total",
			Help:      "Context switches performed by the scheduler",
		}),
		PageFaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_faults_total",
			Help:      "Page faults by resolution",
		}, []string{"kind"}),
		SwapTraffic: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swap_pages_total",
			Help:      "Pages moved to or from the swap device",
		}, []string{"direction"}),
		SignalsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_sent_total",
			Help:      "Signals accepted for delivery",
		}, []string{"signal"}),
		IPCBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ipc_blocks_total",
			Help:      "Processes put to sleep on an IPC object",
		}, []string{"resource"}),

		Processes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes",
			Help:      "Processes by state",
		}, []string{"state"}),
		FreeFrames: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "free_frames",
			Help:      "Unallocated physical frames",
		}),
		SwapUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "swap_used_slots",
			Help:      "Occupied swap slots",
		}),
		RTReady: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rt_ready",
			Help:      "Real-time processes waiting for the CPU",
		}),
		BlockedWaiters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ipc_blocked_waiters",
			Help:      "Processes waiting on IPC objects",
		}),
		MissedDeadlines: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missed_deadlines",
			Help:      "Late periodic task runs",
		}),
		JainIndex: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fairness_jain_index",
			Help:      "Jain's fairness index over fair-share CPU time",
		}),

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		ResponseSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}, []string{"method", "path"}),

		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of active WebSocket connections",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Total number of WebSocket messages",
		}, []string{"direction", "type"}),

		Uptime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Daemon uptime in seconds",
		}),
	}
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns the kernel instrumentation points backed by m.
func (m *Metrics) Hooks() kernel.Hooks {
	return kernel.Hooks{
		Sched:  m,
		Memory: m,
		IPC:    m,
		Signal: m.SignalSent,
		Tick:   m.Tick,
	}
}

// ContextSwitch implements sched.Observer.
func (m *Metrics) ContextSwitch(_, _ *proc.Process, _ uint64) {
	m.ContextSwitches.Inc()
}

// PageFault implements mm.Observer.
func (m *Metrics) PageFault(kind mm.FaultKind) {
	m.PageFaults.WithLabelValues(string(kind)).Inc()
}

// SwapOut implements mm.Observer.
func (m *Metrics) SwapOut() {
	m.SwapTraffic.WithLabelValues("out").Inc()
}

// SwapIn implements mm.Observer.
func (m *Metrics) SwapIn() {
	m.SwapTraffic.WithLabelValues("in").Inc()
}

// Blocked implements ipc.Observer.
func (m *Metrics) Blocked(resource string) {
	m.IPCBlocks.WithLabelValues(resource).Inc()
}

// SignalSent counts an accepted signal.
func (m *Metrics) SignalSent(_ proc.PID, sig signal.Signal) {
	m.SignalsSent.WithLabelValues(sig.String()).Inc()
}

// Tick counts a timer interrupt.
func (m *Metrics) Tick(uint64) {
	m.Ticks.Inc()
}

// Observe refreshes the gauges from a kernel snapshot.
func (m *Metrics) Observe(st kernel.Stats) {
	m.Processes.Reset()
	for state, n := range st.Processes {
		m.Processes.WithLabelValues(state).Set(float64(n))
	}
	m.FreeFrames.Set(float64(st.Memory.FreeFrames))
	m.SwapUsed.Set(float64(st.Memory.SwapUsed))
	m.RTReady.Set(float64(st.Scheduler.RTReady))
	m.BlockedWaiters.Set(float64(st.IPC.Blocked))
	m.MissedDeadlines.Set(float64(st.Timing.MissedDeadlines))
	m.JainIndex.Set(st.Fairness.JainIndex)
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, respSize int64) {
	code := strconv.Itoa(status)
	m.RequestsTotal.WithLabelValues(method, path, code).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status >= 400 {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections.
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections.
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns the HTTP totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
