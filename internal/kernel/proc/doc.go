// Package proc holds the process control block and the process table.
//
// The table is an arena of slots: every process is addressed by a PID for
// callers and by an arena handle inside the kernel's own wait lists and run
// queues. Slot 0 is always the idle process (PID 0); a full table is reported
// as ErrTableFull, never as PID 0.
//
// Nothing in this package takes locks. The kernel serialises all access.
package proc
