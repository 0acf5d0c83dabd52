package tracing

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/id"
)

// DefaultCapacity is the number of finished spans a tracer keeps.
const DefaultCapacity = 1024

// Span is one uninterrupted stretch of a process on the CPU.
type Span struct {
	TraceID   id.BootID     `json:"trace_id"`
	SpanID    id.SpanID     `json:"span_id"`
	PID       proc.PID      `json:"pid"`
	Name      string        `json:"name"`
	Realtime  bool          `json:"realtime"`
	StartTick uint64        `json:"start_tick"`
	EndTick   uint64        `json:"end_tick"`
	Ticks     uint64        `json:"ticks"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	// NextPID is the process that took the CPU when the span ended.
	NextPID proc.PID `json:"next_pid"`
}

// Tracer records a span per dispatch. It implements sched.Observer and is
// safe for concurrent use.
type Tracer struct {
	traceID id.BootID
	logger  *zap.Logger

	mu    sync.Mutex
	open  *Span
	ring  []Span
	next  int
	full  bool
	total uint64
	now   func() time.Time
}

// New creates a tracer keeping the last capacity spans of the kernel booted
// as traceID. A non-positive capacity means DefaultCapacity.
func New(traceID id.BootID, capacity int, logger *zap.Logger) *Tracer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{
		traceID: traceID,
		logger:  logger,
		ring:    make([]Span, capacity),
		now:     time.Now,
	}
}

// ContextSwitch closes the span of prev and opens one for next.
func (t *Tracer) ContextSwitch(prev, next *proc.Process, tick uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.open != nil {
		s := *t.open
		s.EndTick = tick
		s.Ticks = tick - s.StartTick
		s.Duration = now.Sub(s.StartTime)
		s.NextPID = next.PID
		t.push(s)
		t.logger.Debug("span completed",
			zap.String("trace_id", string(s.TraceID)),
			zap.String("span_id", string(s.SpanID)),
			zap.Int("pid", int(s.PID)),
			zap.String("operation", s.Name),
			zap.Uint64("ticks", s.Ticks),
			zap.Int("next_pid", int(next.PID)),
		)
	} else if prev != nil {
		t.logger.Debug("switch without open span", zap.Int("pid", int(prev.PID)))
	}

	t.open = &Span{
		TraceID:   t.traceID,
		SpanID:    id.NewSpanID(),
		PID:       next.PID,
		Name:      next.Name,
		Realtime:  next.Realtime,
		StartTick: tick,
		StartTime: now,
	}
}

func (t *Tracer) push(s Span) {
	t.ring[t.next] = s
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
	t.total++
}

// Spans returns the retained spans, oldest first.
func (t *Tracer) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]Span(nil), t.ring[:t.next]...)
	}
	out := make([]Span, 0, len(t.ring))
	out = append(out, t.ring[t.next:]...)
	return append(out, t.ring[:t.next]...)
}

// Current returns the span of the running process, if any.
func (t *Tracer) Current() (Span, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return Span{}, false
	}
	return *t.open, true
}

// Total returns the number of spans ever completed, dropped ones included.
func (t *Tracer) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// TraceID returns the trace all spans belong to.
func (t *Tracer) TraceID() id.BootID {
	return t.traceID
}

// FormatTrace returns a formatted trace string for logging
func FormatTrace(traceID id.BootID, spanID id.SpanID) string {
	return fmt.Sprintf("[trace:%s span:%s]", traceID, spanID)
}
