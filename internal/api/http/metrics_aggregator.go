package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/monitoring"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
)

// MetricsAggregator serves kernel and API metrics, refreshing the state
// gauges from a kernel snapshot on every scrape.
type MetricsAggregator struct {
	metrics *monitoring.Metrics
	kernel  *kernel.Kernel
	started time.Time
}

// NewMetricsAggregator creates a metrics aggregator.
func NewMetricsAggregator(metrics *monitoring.Metrics, k *kernel.Kernel) *MetricsAggregator {
	return &MetricsAggregator{
		metrics: metrics,
		kernel:  k,
		started: time.Now(),
	}
}

// MetricsSnapshot represents a snapshot of all system metrics
type MetricsSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Kernel    kernel.Stats   `json:"kernel"`
	Summary   MetricsSummary `json:"summary"`
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	TotalRequests     int64   `json:"total_requests"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	ErrorRate         float64 `json:"error_rate"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	TicksPerSecond    float64 `json:"ticks_per_second"`
}

// Prometheus serves the registry in the exposition format.
func (ma *MetricsAggregator) Prometheus(c *gin.Context) {
	ma.metrics.Observe(ma.kernel.Stats())
	ma.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// GetAggregatedMetrics returns the kernel statistics with an API summary.
func (ma *MetricsAggregator) GetAggregatedMetrics(c *gin.Context) {
	st := ma.kernel.Stats()
	ma.metrics.Observe(st)
	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp: time.Now(),
		Kernel:    st,
		Summary:   ma.calculateSummary(st.Ticks),
	})
}

func (ma *MetricsAggregator) calculateSummary(ticks uint64) MetricsSummary {
	snap := ma.metrics.Snapshot()
	uptime := time.Since(ma.started).Seconds()

	summary := MetricsSummary{
		TotalRequests:     snap.TotalRequests,
		ActiveConnections: snap.ActiveConnections,
		UptimeSeconds:     uptime,
	}
	if snap.RequestCount > 0 {
		summary.AverageLatencyMs = snap.TotalDuration / float64(snap.RequestCount) * 1000
		summary.ErrorRate = float64(snap.TotalErrors) / float64(snap.RequestCount)
	}
	if uptime > 0 {
		summary.TicksPerSecond = float64(ticks) / uptime
	}
	return summary
}
