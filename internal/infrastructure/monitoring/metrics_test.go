package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/mm"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
)

func instrumented(t *testing.T) (*kernel.Kernel, *Metrics) {
	t.Helper()
	cfg := kernel.DefaultConfig()
	cfg.MaxProcesses = 8
	cfg.Memory.Frames = 32
	cfg.Memory.SwapSlots = 8
	k, err := kernel.New(cfg, vfs.NewMemFS(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown() })

	m := NewMetrics(nil)
	k.Instrument(m.Hooks())
	return k, m
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.Ticks.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Ticks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Ticks))
}

func TestKernelCounters(t *testing.T) {
	k, m := instrumented(t)
	a, err := k.CreateProcess("a", 0x1000, proc.PriorityNormal)
	require.NoError(t, err)
	_, err = k.CreateProcess("b", 0x1000, proc.PriorityNormal)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		k.Tick()
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Ticks))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.ContextSwitches), 1.0)

	addr, err := k.Mmap(a, 0, mm.PageSize, mm.ProtRead|mm.ProtWrite, mm.MapPrivate|mm.MapAnonymous, -1, 0)
	require.NoError(t, err)
	require.NoError(t, k.Fault(a, addr, true))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PageFaults.WithLabelValues(string(mm.FaultDemand))))

	require.NoError(t, k.Kill(a, signal.SIGTERM))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsSent.WithLabelValues("SIGTERM")))
}

func TestObserveSetsGauges(t *testing.T) {
	k, m := instrumented(t)
	_, err := k.CreateProcess("a", 0x1000, proc.PriorityNormal)
	require.NoError(t, err)

	st := k.Stats()
	m.Observe(st)
	assert.Equal(t, float64(st.Memory.FreeFrames), testutil.ToFloat64(m.FreeFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Processes.WithLabelValues("ready")))
	assert.Equal(t, st.Fairness.JainIndex, testutil.ToFloat64(m.JainIndex))
}

func TestBlockedCountsResource(t *testing.T) {
	m := NewMetrics(nil)
	m.Blocked("semaphore")
	m.Blocked("semaphore")
	m.SwapOut()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IPCBlocks.WithLabelValues("semaphore")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SwapTraffic.WithLabelValues("out")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(nil)

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/processes/:pid", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/processes/1", "/processes/2", "/missing"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/processes/:pid", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.TotalErrors)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kronos_http_requests_total")
}

func TestWSConnections(t *testing.T) {
	m := NewMetrics(nil)
	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.RecordWSMessage("out", "stats")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))
	assert.Equal(t, int64(1), m.Snapshot().ActiveConnections)
}
