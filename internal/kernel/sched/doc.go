// Package sched is the process scheduler.
//
// Two ready structures feed one dispatcher. Real-time processes (priority
// 0..99) wait in a bounded priority queue and always run first, most urgent
// first and FIFO among equals. Everything else sits in a fair-share tree
// ordered by (vruntime, pid); the leftmost entry runs next, so on a vruntime
// tie the older process wins. When both are empty the idle process runs.
//
// Execution time is accounted every tick into the running process:
//
//	Δvruntime = Δexec × 1024 / weight
//
// Schedule is the single dispatch point. It is called from Tick when the
// preemption cadence or the current time slice says so, and directly from
// Block, Yield and Exit.
package sched
