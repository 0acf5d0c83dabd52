package sched

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/rtos"
)

// Defaults.
const (
	DefaultTimeSliceTicks   = 10
	DefaultCFSPeriodNs      = 6_000_000
	DefaultMinGranularityNs = 750_000
	DefaultRTQueueSlots     = 32
	DefaultRTTimeSliceTicks = 10
)

// Config tunes the scheduler.
type Config struct {
	TimeSliceTicks   uint64
	CFSPeriodNs      uint64
	MinGranularityNs uint64
	RTQueueSlots     int
	RTTimeSliceTicks uint64
}

// DefaultConfig returns the boot defaults.
func DefaultConfig() Config {
	return Config{
		TimeSliceTicks:   DefaultTimeSliceTicks,
		CFSPeriodNs:      DefaultCFSPeriodNs,
		MinGranularityNs: DefaultMinGranularityNs,
		RTQueueSlots:     DefaultRTQueueSlots,
		RTTimeSliceTicks: DefaultRTTimeSliceTicks,
	}
}

// Observer is told about every context switch. prev is nil on the first
// dispatch.
type Observer interface {
	ContextSwitch(prev, next *proc.Process, tick uint64)
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Current         proc.PID `json:"current"`
	NrRunning       int      `json:"nr_running"`
	RTReady         int      `json:"rt_ready"`
	TotalWeight     uint64   `json:"total_weight"`
	MinVRuntime     uint64   `json:"min_vruntime"`
	ContextSwitches uint64   `json:"context_switches"`
	Preemptions     uint64   `json:"preemptions"`
}

// Scheduler owns the ready structures and the notion of the running process.
// It is not safe for concurrent use; the kernel lock guards it.
type Scheduler struct {
	cfg   Config
	table *proc.Table
	clock *rtos.System

	fair *fairTree
	rt   *rtQueue

	current     *proc.Process
	cpu         proc.CPUContext
	minVRuntime uint64
	needResched bool
	rotate      bool

	contextSwitches uint64
	preemptions     uint64

	observers []Observer
	logger    *zap.Logger
}

// New creates a scheduler over table, timed by clock.
func New(cfg Config, table *proc.Table, clock *rtos.System, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TimeSliceTicks == 0 {
		cfg.TimeSliceTicks = DefaultTimeSliceTicks
	}
	if cfg.CFSPeriodNs == 0 {
		cfg.CFSPeriodNs = DefaultCFSPeriodNs
	}
	if cfg.MinGranularityNs == 0 {
		cfg.MinGranularityNs = DefaultMinGranularityNs
	}
	if cfg.RTQueueSlots <= 0 {
		cfg.RTQueueSlots = DefaultRTQueueSlots
	}
	if cfg.RTTimeSliceTicks == 0 {
		cfg.RTTimeSliceTicks = DefaultRTTimeSliceTicks
	}
	return &Scheduler{
		cfg:    cfg,
		table:  table,
		clock:  clock,
		fair:   newFairTree(),
		rt:     newRTQueue(cfg.RTQueueSlots),
		logger: logger.Named("sched"),
	}
}

// AddObserver registers o for context switch notifications.
func (s *Scheduler) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Table returns the process table.
func (s *Scheduler) Table() *proc.Table {
	return s.table
}

// Current returns the running process, or nil before the first dispatch.
func (s *Scheduler) Current() *proc.Process {
	return s.current
}

// CPU returns the live register file.
func (s *Scheduler) CPU() proc.CPUContext {
	return s.cpu
}

// Create builds a process and admits it to the fair-share tree.
func (s *Scheduler) Create(name string, entry uint64, prio proc.Priority, ppid proc.PID) (*proc.Process, error) {
	nice := proc.NiceForPriority(prio)
	p := &proc.Process{
		PPID:         ppid,
		Name:         name,
		Priority:     prio,
		BasePriority: prio,
		Nice:         nice,
		Weight:       proc.WeightForNice(nice),
		Context:      proc.NewContext(entry),
		VMBase:       proc.UserVirtualBase,
		VMSize:       proc.UserVirtualSize,
	}
	if err := s.Admit(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Admit stores a prepared PCB in the process table and makes it ready at the
// current minimum vruntime.
func (s *Scheduler) Admit(p *proc.Process) error {
	if err := s.table.Insert(p); err != nil {
		return err
	}
	now := s.clock.Ticks()
	p.State = proc.StateReady
	p.CreatedAt = now
	p.ReadyAt = now
	p.VRuntime = s.minVRuntime
	if p.Weight == 0 {
		p.Weight = proc.WeightForNice(p.Nice)
	}
	p.DefaultTimeSlice = s.sliceTicks(p)
	p.TimeSlice = p.DefaultTimeSlice
	s.enqueue(p)

	s.logger.Debug("process admitted",
		zap.Uint32("pid", uint32(p.PID)),
		zap.String("name", p.Name),
		zap.Int("nice", p.Nice),
		zap.Uint64("weight", p.Weight))
	return nil
}

// Tick accounts one timer tick to the running process and reschedules when
// the preemption cadence, an exhausted time slice or a pending wake-up asks
// for it. It reports whether Schedule ran.
func (s *Scheduler) Tick() bool {
	now := s.clock.Ticks()
	cur := s.current
	if cur != nil && cur.State == proc.StateRunning {
		s.updateCurr(cur, now)
		if cur.TimeSlice > 0 {
			cur.TimeSlice--
		}
	}
	if !s.clock.Preemption() {
		return false
	}

	resched := s.needResched || now%s.cfg.TimeSliceTicks == 0
	if cur != nil && cur.State == proc.StateRunning && cur.TimeSlice == 0 && cur.PID != proc.IdlePID {
		cur.TimeSlice = cur.DefaultTimeSlice
		s.rotate = true
		resched = true
	}
	if cur == nil || cur.PID == proc.IdlePID || cur.State != proc.StateRunning {
		resched = resched || s.fair.len() > 0 || s.rt.len() > 0
	}
	if head, ok := s.rt.peek(); ok && cur != nil && cur.State == proc.StateRunning && s.moreUrgent(head, cur) {
		resched = true
	}
	if !resched {
		return false
	}
	if cur != nil && cur.PID != proc.IdlePID && cur.State == proc.StateRunning {
		s.preemptions++
	}
	s.Schedule()
	return true
}

// Schedule is the dispatcher. It accounts the outgoing process, re-enqueues
// it if it is still runnable, and dispatches the real-time head, else the
// leftmost fair-share process, else idle. A preempted real-time process goes
// back to the head of its priority band; one that used up its slice or
// yielded goes to the tail.
func (s *Scheduler) Schedule() {
	now := s.clock.Ticks()
	s.needResched = false
	rotate := s.rotate
	s.rotate = false

	prev := s.current
	if prev != nil && prev.State == proc.StateRunning {
		s.updateCurr(prev, now)
		prev.State = proc.StateReady
		prev.ReadyAt = now
		switch {
		case prev.PID == proc.IdlePID:
		case prev.Realtime && !rotate && s.rt.insertHead(prev) == nil:
		default:
			s.enqueue(prev)
		}
	}

	next := s.pickNext()
	if next.State != proc.StateReady {
		panic(fmt.Sprintf("sched: dispatching pid %d in state %s", next.PID, next.State))
	}
	next.State = proc.StateRunning
	next.ExecStart = now
	next.LastScheduled = now
	if next.PID != proc.IdlePID {
		next.DefaultTimeSlice = s.sliceTicks(next)
		s.clock.RecordSchedulingLatency(now - next.ReadyAt)
	}
	if prev != next || next.TimeSlice == 0 {
		next.TimeSlice = next.DefaultTimeSlice
	}
	s.current = next
	s.updateMinVRuntime()

	if prev != next {
		s.contextSwitch(prev, next, now)
	}
}

// Block takes p off the CPU or out of the ready structures and arms its wake
// future. If p was running the CPU is handed to the next process.
func (s *Scheduler) Block(p *proc.Process) <-chan struct{} {
	wake := p.Park()
	switch p.State {
	case proc.StateRunning:
		s.updateCurr(p, s.clock.Ticks())
		p.State = proc.StateBlocked
		s.Schedule()
	case proc.StateReady:
		s.dequeue(p)
		p.State = proc.StateBlocked
	}
	return wake
}

// Wake makes a blocked process ready again and resolves its wake future. It
// reports whether p was blocked.
func (s *Scheduler) Wake(p *proc.Process) bool {
	if p.State != proc.StateBlocked {
		return false
	}
	if p.Stopped {
		p.Unpark()
		return false
	}
	if p.VRuntime < s.minVRuntime {
		p.VRuntime = s.minVRuntime
	}
	p.State = proc.StateReady
	p.ReadyAt = s.clock.Ticks()
	s.enqueue(p)
	p.Unpark()

	if cur := s.current; cur == nil || cur.PID == proc.IdlePID || s.moreUrgent(p, cur) {
		s.needResched = true
	}
	return true
}

// Yield gives up the CPU if p is running.
func (s *Scheduler) Yield(p *proc.Process) {
	if p == s.current && p.State == proc.StateRunning {
		s.rotate = true
		s.Schedule()
	}
}

// Exit removes p from the ready structures, marks it ZOMBIE and releases any
// goroutine waiting on its wake future.
func (s *Scheduler) Exit(p *proc.Process, code int) {
	if p.PID == proc.IdlePID {
		return
	}
	wasRunning := p.State == proc.StateRunning
	if wasRunning {
		s.updateCurr(p, s.clock.Ticks())
	}
	s.dequeue(p)
	p.State = proc.StateZombie
	p.ExitCode = code
	p.Unpark()

	s.logger.Debug("process exited",
		zap.Uint32("pid", uint32(p.PID)),
		zap.Int("code", code))

	if wasRunning || s.current == p {
		s.Schedule()
	}
}

// SetRealtimePriority moves p into the real-time band at prio.
func (s *Scheduler) SetRealtimePriority(p *proc.Process, prio proc.Priority) error {
	if prio > proc.RTPriorityMax {
		return kerr.ErrPriorityInvalid
	}
	queued := p.State == proc.StateReady && s.dequeue(p)

	oldPrio, oldBase, oldRT := p.Priority, p.BasePriority, p.Realtime
	p.Priority = prio
	p.BasePriority = prio
	p.Realtime = true
	if queued {
		if err := s.rt.insert(p); err != nil {
			p.Priority, p.BasePriority, p.Realtime = oldPrio, oldBase, oldRT
			s.enqueue(p)
			return err
		}
	}
	p.TimeSlice = s.cfg.RTTimeSliceTicks
	p.DefaultTimeSlice = s.cfg.RTTimeSliceTicks

	if cur := s.current; queued && cur != nil && s.moreUrgent(p, cur) {
		s.needResched = true
	}
	s.logger.Debug("realtime priority set",
		zap.Uint32("pid", uint32(p.PID)),
		zap.Uint8("priority", uint8(prio)))
	return nil
}

// ClearRealtime returns p to the fair-share class at prio.
func (s *Scheduler) ClearRealtime(p *proc.Process, prio proc.Priority) {
	queued := p.State == proc.StateReady && s.dequeue(p)
	p.Realtime = false
	p.Priority = prio
	p.BasePriority = prio
	if p.VRuntime < s.minVRuntime {
		p.VRuntime = s.minVRuntime
	}
	p.DefaultTimeSlice = s.sliceTicks(p)
	if queued {
		s.enqueue(p)
	}
}

// SetPriority changes the effective priority of p, repositioning it in the
// real-time queue. Used for priority inheritance.
func (s *Scheduler) SetPriority(p *proc.Process, prio proc.Priority) {
	if p.Priority == prio {
		return
	}
	queued := p.State == proc.StateReady && s.rt.remove(p)
	p.Priority = prio
	if queued {
		// Re-insertion cannot fail: the slot was just freed.
		_ = s.rt.insert(p)
	}
}

// SetNice changes the nice value and weight of p.
func (s *Scheduler) SetNice(p *proc.Process, nice int) {
	nice = proc.ClampNice(nice)
	if p.State == proc.StateRunning {
		s.updateCurr(p, s.clock.Ticks())
	}
	queued := p.State == proc.StateReady && s.dequeue(p)
	p.Nice = nice
	p.Weight = proc.WeightForNice(nice)
	if queued {
		s.enqueue(p)
	}
	if !p.Realtime {
		p.DefaultTimeSlice = s.sliceTicks(p)
	}
}

// Queued reports whether p sits in a ready structure.
func (s *Scheduler) Queued(p *proc.Process) bool {
	return s.rt.contains(p) || s.fair.contains(p)
}

// RTReady returns the number of queued real-time processes.
func (s *Scheduler) RTReady() int {
	return s.rt.len()
}

// ContextSwitches returns the number of context switches performed.
func (s *Scheduler) ContextSwitches() uint64 {
	return s.contextSwitches
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		NrRunning:       s.fair.len() + s.rt.len(),
		RTReady:         s.rt.len(),
		TotalWeight:     s.fair.totalWeight,
		MinVRuntime:     s.minVRuntime,
		ContextSwitches: s.contextSwitches,
		Preemptions:     s.preemptions,
	}
	if s.current != nil {
		st.Current = s.current.PID
	}
	return st
}

// TimeSliceNs returns the proportional fair slice of p in nanoseconds.
func (s *Scheduler) TimeSliceNs(p *proc.Process) uint64 {
	total := s.fair.totalWeight
	if !s.fair.contains(p) {
		total += p.Weight
	}
	if total == 0 {
		return s.cfg.CFSPeriodNs
	}
	slice := s.cfg.CFSPeriodNs * p.Weight / total
	if slice < s.cfg.MinGranularityNs {
		slice = s.cfg.MinGranularityNs
	}
	return slice
}

func (s *Scheduler) sliceTicks(p *proc.Process) uint64 {
	if p.Realtime {
		return s.cfg.RTTimeSliceTicks
	}
	tickNs := 1_000_000_000 / s.clock.Clock().Hz()
	ticks := (s.TimeSliceNs(p) + tickNs - 1) / tickNs
	if ticks == 0 {
		ticks = 1
	}
	return ticks
}

func (s *Scheduler) pickNext() *proc.Process {
	if p, ok := s.rt.pop(); ok {
		return p
	}
	if p, ok := s.fair.leftmost(); ok {
		s.fair.dequeue(p)
		return p
	}
	return s.table.Idle()
}

func (s *Scheduler) enqueue(p *proc.Process) {
	if p.PID == proc.IdlePID {
		return
	}
	if p.Realtime {
		if err := s.rt.insert(p); err == nil {
			return
		}
		s.logger.Warn("real-time queue full, queuing on fair-share tree",
			zap.Uint32("pid", uint32(p.PID)))
	}
	s.fair.enqueue(p)
}

func (s *Scheduler) dequeue(p *proc.Process) bool {
	if s.rt.remove(p) {
		return true
	}
	return s.fair.dequeue(p)
}

// updateCurr charges the time since p.ExecStart to p.
func (s *Scheduler) updateCurr(p *proc.Process, now uint64) {
	if now <= p.ExecStart {
		return
	}
	tickNs := 1_000_000_000 / s.clock.Clock().Hz()
	delta := (now - p.ExecStart) * tickNs
	p.ExecStart = now
	p.SumExecRuntime += delta
	if p.PID == proc.IdlePID {
		return
	}
	p.VRuntime += delta * proc.NiceZeroWeight / p.Weight
	s.updateMinVRuntime()
}

// updateMinVRuntime advances min_vruntime monotonically towards the smallest
// vruntime among the running fair-share process and the tree.
func (s *Scheduler) updateMinVRuntime() {
	var (
		candidate uint64
		found     bool
	)
	if cur := s.current; cur != nil && cur.State == proc.StateRunning && cur.PID != proc.IdlePID && !cur.Realtime {
		candidate, found = cur.VRuntime, true
	}
	if left, ok := s.fair.leftmost(); ok && (!found || left.VRuntime < candidate) {
		candidate, found = left.VRuntime, true
	}
	if found && candidate > s.minVRuntime {
		s.minVRuntime = candidate
	}
}

func (s *Scheduler) moreUrgent(a, b *proc.Process) bool {
	if a.Realtime && !b.Realtime {
		return true
	}
	return a.Realtime && b.Realtime && a.Priority < b.Priority
}

func (s *Scheduler) contextSwitch(prev, next *proc.Process, now uint64) {
	if prev != nil {
		prev.Context = s.cpu
	}
	s.cpu = next.Context
	s.contextSwitches++

	for _, o := range s.observers {
		o.ContextSwitch(prev, next, now)
	}
}
