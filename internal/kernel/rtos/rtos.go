package rtos

import (
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// Defaults.
const (
	DefaultTickRateHz          = 1000
	DefaultMaxPeriodicTasks    = 32
	DefaultInterruptLatencyUs  = 10
	DefaultSchedulingLatencyUs = 100
)

// Config configures the timing layer.
type Config struct {
	TickRateHz       uint32
	MaxPeriodicTasks int
	MaxTimeouts      int
	Preemption       bool
}

// DefaultConfig returns the boot defaults.
func DefaultConfig() Config {
	return Config{
		TickRateHz:       DefaultTickRateHz,
		MaxPeriodicTasks: DefaultMaxPeriodicTasks,
		MaxTimeouts:      256,
		Preemption:       true,
	}
}

// TimingStats is the snapshot returned by the timing statistics call.
type TimingStats struct {
	SystemTicks            uint64 `json:"system_ticks"`
	MaxInterruptLatencyUs  uint64 `json:"max_interrupt_latency_us"`
	MaxSchedulingLatencyUs uint64 `json:"max_scheduling_latency_us"`
	ActiveTimeouts         int    `json:"active_timeouts"`
	RTProcessesReady       int    `json:"rt_processes_ready"`
	PreemptionEnabled      bool   `json:"preemption_enabled"`
	ContextSwitches        uint64 `json:"context_switches"`
	MissedDeadlines        uint64 `json:"missed_deadlines"`
}

// System bundles the clock, the timeout and periodic tables, the critical
// section counter and the preemption switch. It is not safe for concurrent
// use; the kernel lock guards it.
type System struct {
	clock    *Clock
	timeouts *TimeoutTable
	periodic *PeriodicTable
	critical Critical

	preemption        bool
	maxSchedLatencyUs uint64
	missedDeadlines   uint64

	logger *zap.Logger
}

// New creates the timing layer.
func New(cfg Config, logger *zap.Logger) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPeriodicTasks <= 0 {
		cfg.MaxPeriodicTasks = DefaultMaxPeriodicTasks
	}
	if cfg.MaxTimeouts <= 0 {
		cfg.MaxTimeouts = 256
	}
	return &System{
		clock:             NewClock(cfg.TickRateHz),
		timeouts:          NewTimeoutTable(cfg.MaxTimeouts),
		periodic:          NewPeriodicTable(cfg.MaxPeriodicTasks),
		preemption:        cfg.Preemption,
		maxSchedLatencyUs: DefaultSchedulingLatencyUs,
		logger:            logger.Named("rtos"),
	}
}

// Clock returns the system clock.
func (s *System) Clock() *Clock { return s.clock }

// Ticks returns ticks since boot.
func (s *System) Ticks() uint64 { return s.clock.Ticks() }

// Advance moves the clock one tick.
func (s *System) Advance() uint64 { return s.clock.Advance() }

// ArmTimeout arms a deadline timeoutMs from now for the process. A non-zero
// timeout always lasts at least one tick.
func (s *System) ArmTimeout(h arena.Handle, pid proc.PID, timeoutMs uint32) (uint64, error) {
	ticks := s.clock.MsToTicks(timeoutMs)
	if ticks == 0 {
		ticks = 1
	}
	deadline := s.clock.Ticks() + ticks
	if err := s.timeouts.Add(h, pid, deadline); err != nil {
		return 0, err
	}
	return deadline, nil
}

// ArmDeadline arms an absolute deadline for the process unless one is armed.
func (s *System) ArmDeadline(h arena.Handle, pid proc.PID, deadline uint64) error {
	if _, ok := s.timeouts.Deadline(h); ok {
		return nil
	}
	return s.timeouts.Add(h, pid, deadline)
}

// Deadline returns the armed deadline of the process.
func (s *System) Deadline(h arena.Handle) (uint64, bool) {
	return s.timeouts.Deadline(h)
}

// CancelTimeout disarms the deadline of the process.
func (s *System) CancelTimeout(h arena.Handle) bool {
	return s.timeouts.Cancel(h)
}

// ExpireTimeouts removes and returns every deadline that has passed.
func (s *System) ExpireTimeouts() []Timeout {
	expired := s.timeouts.Expire(s.clock.Ticks())
	for _, t := range expired {
		s.logger.Debug("timeout expired",
			zap.Uint32("pid", uint32(t.PID)),
			zap.Uint64("deadline", t.Deadline))
	}
	return expired
}

// Expired reports whether the deadline of the process has passed.
func (s *System) Expired(h arena.Handle) bool {
	d, ok := s.timeouts.Deadline(h)
	return ok && s.clock.Ticks() >= d
}

// RegisterPeriodicTask registers fn to run every periodMs milliseconds.
func (s *System) RegisterPeriodicTask(name string, fn TaskFunc, periodMs uint32, priority uint32) (int, error) {
	id, err := s.periodic.Register(name, fn, periodMs, s.clock.MsToTicks(periodMs), priority, s.clock.Ticks())
	if err != nil {
		return -1, err
	}
	s.logger.Info("periodic task registered",
		zap.Int("id", id),
		zap.String("name", name),
		zap.Uint32("period_ms", periodMs),
		zap.Uint32("priority", priority))
	return id, nil
}

// UnregisterPeriodicTask deactivates a task.
func (s *System) UnregisterPeriodicTask(id int) error {
	return s.periodic.SetActive(id, false, s.clock.Ticks())
}

// ResumePeriodicTask reactivates a task one period from now.
func (s *System) ResumePeriodicTask(id int) error {
	return s.periodic.SetActive(id, true, s.clock.Ticks())
}

// DuePeriodicTasks collects the tasks due now in execution order. The caller
// runs them outside the kernel lock.
func (s *System) DuePeriodicTasks() []*PeriodicTask {
	due, late := s.periodic.Due(s.clock.Ticks())
	if late > 0 {
		s.missedDeadlines += late
		s.logger.Debug("periodic tasks ran late",
			zap.Uint64("count", late),
			zap.Uint64("tick", s.clock.Ticks()))
	}
	return due
}

// PeriodicTasks returns a snapshot of the periodic table.
func (s *System) PeriodicTasks() []PeriodicTask {
	return s.periodic.Tasks()
}

// EnterCritical opens a critical section.
func (s *System) EnterCritical() {
	s.critical.Enter()
}

// ExitCritical closes a critical section and returns the ticks to deliver.
func (s *System) ExitCritical() uint64 {
	return s.critical.Exit()
}

// InCritical reports whether interrupts are masked.
func (s *System) InCritical() bool {
	return s.critical.Masked()
}

// DeferTick records a tick that arrived while masked.
func (s *System) DeferTick() {
	s.critical.Defer()
}

// SetPreemption turns tick-driven preemption on or off.
func (s *System) SetPreemption(enabled bool) {
	if s.preemption != enabled {
		s.logger.Info("preemption changed", zap.Bool("enabled", enabled))
	}
	s.preemption = enabled
}

// Preemption reports whether tick-driven preemption is enabled.
func (s *System) Preemption() bool {
	return s.preemption
}

// RecordSchedulingLatency records a READY to RUNNING delay in ticks.
func (s *System) RecordSchedulingLatency(ticks uint64) {
	us := ticks * s.clock.TickMicros()
	if us > s.maxSchedLatencyUs {
		s.maxSchedLatencyUs = us
	}
}

// MissedDeadlines returns the number of late periodic runs.
func (s *System) MissedDeadlines() uint64 {
	return s.missedDeadlines
}

// Stats returns the timing statistics. The RT-ready count and context switch
// count come from the scheduler.
func (s *System) Stats(rtReady int, contextSwitches uint64) TimingStats {
	intLatency := uint64(DefaultInterruptLatencyUs)
	if d := s.critical.MaxDeferred() * s.clock.TickMicros(); d > intLatency {
		intLatency = d
	}
	return TimingStats{
		SystemTicks:            s.clock.Ticks(),
		MaxInterruptLatencyUs:  intLatency,
		MaxSchedulingLatencyUs: s.maxSchedLatencyUs,
		ActiveTimeouts:         s.timeouts.Len(),
		RTProcessesReady:       rtReady,
		PreemptionEnabled:      s.preemption,
		ContextSwitches:        contextSwitches,
		MissedDeadlines:        s.missedDeadlines,
	}
}
