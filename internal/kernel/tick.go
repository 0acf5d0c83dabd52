package kernel

import (
	"context"
	"time"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/ipc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/mm"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/rtos"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/sched"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/id"
)

// tickWork is what one timer interrupt leaves to run outside the lock.
type tickWork struct {
	tick       uint64
	tasks      []*rtos.PeriodicTask
	deliveries []signal.Delivery
	hooks      []func(uint64)
}

func (w tickWork) run() {
	for _, t := range w.tasks {
		t.Fn()
	}
	runHandlers(w.deliveries)
	for _, h := range w.hooks {
		h(w.tick)
	}
}

// Tick is the timer interrupt. It advances time, expires timeouts, runs due
// periodic tasks, lets the scheduler preempt and delivers pending signals.
// Inside a critical section the tick is deferred until ExitCritical.
func (k *Kernel) Tick() {
	k.mu.Lock()
	if k.rtos.InCritical() {
		k.rtos.DeferTick()
		k.mu.Unlock()
		return
	}
	w := k.tick()
	k.mu.Unlock()
	w.run()
}

// tick runs one interrupt with k.mu held.
func (k *Kernel) tick() tickWork {
	w := tickWork{tick: k.rtos.Advance()}

	for _, to := range k.rtos.ExpireTimeouts() {
		if p, ok := k.table.Resolve(to.Process); ok {
			k.sched.Wake(p)
		}
	}
	w.tasks = k.rtos.DuePeriodicTasks()
	k.sched.Tick()

	k.table.Each(func(p *proc.Process) bool {
		if p.PID != proc.IdlePID && p.State.Alive() && p.Signals.Pending&^p.Signals.Blocked != 0 {
			w.deliveries = append(w.deliveries, k.signals.Deliver(p)...)
		}
		return true
	})
	w.hooks = k.onTick
	return w
}

// Run ticks every period until ctx ends.
func (k *Kernel) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.Tick()
		}
	}
}

// EnterCritical masks the timer interrupt. Sections nest.
func (k *Kernel) EnterCritical() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rtos.EnterCritical()
}

// ExitCritical closes a critical section. Leaving the outermost one replays
// every tick deferred meanwhile.
func (k *Kernel) ExitCritical() {
	k.mu.Lock()
	var work []tickWork
	for n := k.rtos.ExitCritical(); n > 0; n-- {
		work = append(work, k.tick())
	}
	k.mu.Unlock()

	for _, w := range work {
		w.run()
	}
}

// RegisterPeriodicTask runs fn every periodMs milliseconds of kernel time,
// outside the kernel lock. Lower priority values run first within a tick.
func (k *Kernel) RegisterPeriodicTask(name string, fn rtos.TaskFunc, periodMs, priority uint32) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rtos.RegisterPeriodicTask(name, fn, periodMs, priority)
}

// UnregisterPeriodicTask stops a periodic task.
func (k *Kernel) UnregisterPeriodicTask(taskID int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rtos.UnregisterPeriodicTask(taskID)
}

// ResumePeriodicTask restarts a stopped periodic task.
func (k *Kernel) ResumePeriodicTask(taskID int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rtos.ResumePeriodicTask(taskID)
}

// SetPreemption turns tick-driven preemption on or off.
func (k *Kernel) SetPreemption(enabled bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rtos.SetPreemption(enabled)
}

// Ticks returns the kernel time in ticks.
func (k *Kernel) Ticks() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rtos.Ticks()
}

// TimingStats returns the real-time statistics.
func (k *Kernel) TimingStats() rtos.TimingStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rtos.Stats(k.sched.RTReady(), k.sched.ContextSwitches())
}

// Stats aggregates every subsystem's counters.
type Stats struct {
	BootID        id.BootID            `json:"boot_id"`
	Ticks         uint64               `json:"ticks"`
	Processes     map[string]int       `json:"processes"`
	Scheduler     sched.Stats          `json:"scheduler"`
	Fairness      sched.FairnessReport `json:"fairness"`
	Timing        rtos.TimingStats     `json:"timing"`
	Memory        mm.Stats             `json:"memory"`
	IPC           ipc.Stats            `json:"ipc"`
	PeriodicTasks []rtos.PeriodicTask  `json:"-"`
}

// Stats returns one consistent snapshot of the kernel.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()

	counts := make(map[string]int)
	for state, n := range k.table.Counts() {
		counts[state.String()] = n
	}
	return Stats{
		BootID:        k.bootID,
		Ticks:         k.rtos.Ticks(),
		Processes:     counts,
		Scheduler:     k.sched.Stats(),
		Fairness:      k.sched.Fairness(),
		Timing:        k.rtos.Stats(k.sched.RTReady(), k.sched.ContextSwitches()),
		Memory:        k.mm.Stats(),
		IPC:           k.ipc.Stats(),
		PeriodicTasks: k.rtos.PeriodicTasks(),
	}
}
