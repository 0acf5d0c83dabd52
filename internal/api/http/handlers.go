package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/tracing"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/types"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	kernel *kernel.Kernel
	tracer *tracing.Tracer
	logger *zap.Logger
}

// NewHandlers creates a new handler set. tracer may be nil.
func NewHandlers(k *kernel.Kernel, tracer *tracing.Tracer, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{kernel: k, tracer: tracer, logger: logger.Named("api")}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "kronos",
		"version": Version,
		"boot_id": h.kernel.BootID(),
	})
}

// Health reports liveness along with the kernel clock.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"boot_id": h.kernel.BootID(),
		"ticks":   h.kernel.Ticks(),
	})
}

// Stats returns the aggregated kernel statistics.
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.kernel.Stats())
}

// ListProcesses lists every process, zombies included.
func (h *Handlers) ListProcesses(c *gin.Context) {
	procs := h.kernel.Processes()
	c.JSON(http.StatusOK, gin.H{
		"processes": procs,
		"count":     len(procs),
	})
}

// GetProcess describes one process.
func (h *Handlers) GetProcess(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	info, err := h.kernel.Process(pid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type mapping struct {
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Prot   int    `json:"prot"`
	Flags  int    `json:"flags"`
	File   string `json:"file,omitempty"`
	Offset uint64 `json:"offset"`
}

// GetMappings lists the virtual memory areas of a process.
func (h *Handlers) GetMappings(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	vmas, err := h.kernel.Mappings(pid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]mapping, 0, len(vmas))
	for _, v := range vmas {
		m := mapping{Start: v.Start, End: v.End, Prot: v.Prot, Flags: v.Flags, Offset: v.Offset}
		if v.File != nil {
			m.File = v.File.Name()
		}
		out = append(out, m)
	}
	c.JSON(http.StatusOK, gin.H{"pid": pid, "mappings": out})
}

// SendSignal sends a signal to a process. Delivery happens at the process's
// next delivery point, so the response only confirms the signal is pending.
func (h *Handlers) SendSignal(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	var req types.SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}
	sig := signal.Signal(req.Signal)
	if req.Name != "" {
		parsed, ok := signal.Parse(req.Name)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "unknown signal " + req.Name,
			})
			return
		}
		sig = parsed
	}
	if err := h.kernel.Kill(pid, sig); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("signal sent", zap.Uint32("pid", uint32(pid)), zap.Stringer("signal", sig))
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"pid":     pid,
		"signal":  sig.String(),
	})
}

// Memory returns the memory manager statistics.
func (h *Handlers) Memory(c *gin.Context) {
	c.JSON(http.StatusOK, h.kernel.MemoryStats())
}

// IPC describes every live IPC object.
func (h *Handlers) IPC(c *gin.Context) {
	c.JSON(http.StatusOK, h.kernel.IPCSnapshot())
}

// Trace returns the most recent task-switch spans. The limit query parameter
// keeps only the newest n.
func (h *Handlers) Trace(c *gin.Context) {
	if h.tracer == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "tracing disabled"})
		return
	}
	spans := h.tracer.Spans()
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid limit"})
			return
		}
		if n < len(spans) {
			spans = spans[len(spans)-n:]
		}
	}
	resp := gin.H{
		"trace_id": h.tracer.TraceID(),
		"total":    h.tracer.Total(),
		"spans":    spans,
	}
	if cur, ok := h.tracer.Current(); ok {
		resp["current"] = cur
	}
	c.JSON(http.StatusOK, resp)
}

func pidParam(c *gin.Context) (proc.PID, bool) {
	n, err := strconv.ParseUint(c.Param("pid"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid pid",
		})
		return 0, false
	}
	return proc.PID(n), true
}

// respondError maps kernel errors to HTTP statuses.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kerr.ErrNoProcess):
		status = http.StatusNotFound
	case kerr.Code(err) == kerr.CodeInvalidParam:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    kerr.Code(err),
	})
}
