package rtos

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// ErrTimeoutTableFull is returned when no timeout slot is free.
var ErrTimeoutTableFull = kerr.New(kerr.CodeError, "timeout table full")

// Timeout is one armed deadline.
type Timeout struct {
	Deadline uint64
	Process  arena.Handle
	PID      proc.PID
}

// TimeoutTable holds at most one armed deadline per process.
type TimeoutTable struct {
	entries []Timeout
	limit   int
}

// NewTimeoutTable creates a table with room for limit deadlines.
func NewTimeoutTable(limit int) *TimeoutTable {
	return &TimeoutTable{limit: limit}
}

// Add arms a deadline for the process, replacing any earlier one.
func (t *TimeoutTable) Add(h arena.Handle, pid proc.PID, deadline uint64) error {
	for i := range t.entries {
		if t.entries[i].Process == h {
			t.entries[i].Deadline = deadline
			return nil
		}
	}
	if len(t.entries) >= t.limit {
		return ErrTimeoutTableFull
	}
	t.entries = append(t.entries, Timeout{Deadline: deadline, Process: h, PID: pid})
	return nil
}

// Cancel disarms the deadline of the process, if any.
func (t *TimeoutTable) Cancel(h arena.Handle) bool {
	for i := range t.entries {
		if t.entries[i].Process == h {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Deadline returns the armed deadline of the process.
func (t *TimeoutTable) Deadline(h arena.Handle) (uint64, bool) {
	for _, e := range t.entries {
		if e.Process == h {
			return e.Deadline, true
		}
	}
	return 0, false
}

// Expire removes and returns every deadline at or before now, in the order
// they were armed.
func (t *TimeoutTable) Expire(now uint64) []Timeout {
	var expired []Timeout
	kept := t.entries[:0]
	for _, e := range t.entries {
		if now >= e.Deadline {
			expired = append(expired, e)
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return expired
}

// Len returns the number of armed deadlines.
func (t *TimeoutTable) Len() int {
	return len(t.entries)
}
