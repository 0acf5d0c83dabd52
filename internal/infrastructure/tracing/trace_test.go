package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/id"
)

func process(pid proc.PID, name string) *proc.Process {
	return &proc.Process{PID: pid, Name: name}
}

func TestSpansFollowDispatches(t *testing.T) {
	tr := New(id.BootID("boot_test"), 8, nil)
	a, b := process(1, "a"), process(2, "b")

	tr.ContextSwitch(nil, a, 0)
	tr.ContextSwitch(a, b, 3)
	tr.ContextSwitch(b, a, 5)

	spans := tr.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, proc.PID(1), spans[0].PID)
	assert.Equal(t, uint64(3), spans[0].Ticks)
	assert.Equal(t, proc.PID(2), spans[0].NextPID)
	assert.Equal(t, proc.PID(2), spans[1].PID)
	assert.Equal(t, uint64(2), spans[1].Ticks)
	assert.Equal(t, id.BootID("boot_test"), spans[1].TraceID)
	assert.NotEqual(t, spans[0].SpanID, spans[1].SpanID)

	cur, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.Name)
	assert.Equal(t, uint64(5), cur.StartTick)
}

func TestRingKeepsNewest(t *testing.T) {
	tr := New(id.BootID("boot_test"), 2, nil)
	procs := []*proc.Process{process(1, "a"), process(2, "b"), process(3, "c"), process(4, "d")}

	tr.ContextSwitch(nil, procs[0], 0)
	for i := 1; i < len(procs); i++ {
		tr.ContextSwitch(procs[i-1], procs[i], uint64(i))
	}

	spans := tr.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, proc.PID(2), spans[0].PID)
	assert.Equal(t, proc.PID(3), spans[1].PID)
	assert.Equal(t, uint64(3), tr.Total())
}

func TestTracerOnKernel(t *testing.T) {
	cfg := kernel.DefaultConfig()
	cfg.MaxProcesses = 8
	cfg.Memory.Frames = 32
	k, err := kernel.New(cfg, vfs.NewMemFS(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown() })

	tr := New(k.BootID(), 0, zap.NewNop())
	k.Instrument(kernel.Hooks{Sched: tr})

	_, err = k.CreateProcess("a", 0x1000, proc.PriorityNormal)
	require.NoError(t, err)
	_, err = k.CreateProcess("b", 0x1000, proc.PriorityNormal)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		k.Tick()
	}

	spans := tr.Spans()
	require.NotEmpty(t, spans)
	for i := 1; i < len(spans); i++ {
		assert.Equal(t, spans[i-1].EndTick, spans[i].StartTick)
		assert.Equal(t, spans[i-1].NextPID, spans[i].PID)
	}
	assert.Equal(t, k.BootID(), spans[0].TraceID)
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tr := New(id.BootID("boot_test"), 0, nil)

	var seen id.RequestID
	router := gin.New()
	router.Use(HTTPMiddleware(tr))
	router.GET("/health", func(c *gin.Context) {
		seen = RequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "boot_test", w.Header().Get(TraceHeader))
	assert.True(t, id.IsValid(w.Header().Get(RequestHeader)))
	assert.Equal(t, string(seen), w.Header().Get(RequestHeader))

	given := id.NewRequestID()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestHeader, string(given))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, string(given), w.Header().Get(RequestHeader))
}
