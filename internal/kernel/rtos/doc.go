// Package rtos is the timing layer of the kernel: the system tick counter,
// the timeout table used by blocking calls, the periodic-task table, the
// critical-section nesting counter and the preemption switch.
//
// The tick counter is the only time base. At the default 1000 Hz one tick is
// one millisecond. Periodic tasks are polled, not event-scheduled: every pass
// collects the tasks whose next execution tick has passed, most urgent first.
// A task that overran its period runs once, late, and is rescheduled one
// period after the tick it actually ran on; missed executions are not
// replayed, but each late run is counted as a missed deadline.
package rtos
