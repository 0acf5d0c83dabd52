package proc

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// ErrTableFull is returned when every process slot is in use.
var ErrTableFull = kerr.New(kerr.CodeError, "process table full")

// Table is the process table.
type Table struct {
	slots   *arena.Arena[*Process]
	byPID   map[PID]arena.Handle
	nextPID PID
	idle    *Process
}

// NewTable creates a table with capacity slots, one of which is taken by the
// idle process.
func NewTable(capacity int) *Table {
	t := &Table{
		slots:   arena.New[*Process](capacity),
		byPID:   make(map[PID]arena.Handle, capacity),
		nextPID: 1,
	}

	idle := &Process{
		PID:          IdlePID,
		Name:         "idle",
		State:        StateReady,
		Priority:     PriorityIdle,
		BasePriority: PriorityIdle,
		Nice:         NiceMax,
		Weight:       WeightForNice(NiceMax),
	}
	h, err := t.slots.Insert(idle)
	if err != nil {
		panic("proc: table too small for the idle process")
	}
	idle.Handle = h
	t.byPID[IdlePID] = h
	t.idle = idle
	return t
}

// Idle returns the idle process.
func (t *Table) Idle() *Process {
	return t.idle
}

// Insert assigns p the next PID and stores it.
func (t *Table) Insert(p *Process) error {
	h, err := t.slots.Insert(p)
	if err != nil {
		return ErrTableFull
	}
	p.PID = t.nextPID
	p.Handle = h
	t.nextPID++
	t.byPID[p.PID] = h
	return nil
}

// Lookup returns the process with the given PID.
func (t *Table) Lookup(pid PID) (*Process, bool) {
	h, ok := t.byPID[pid]
	if !ok {
		return nil, false
	}
	return t.slots.Get(h)
}

// Resolve returns the process named by h. Handles of reaped processes never
// resolve.
func (t *Table) Resolve(h arena.Handle) (*Process, bool) {
	return t.slots.Get(h)
}

// Remove releases the slot of pid. The idle process cannot be removed.
func (t *Table) Remove(pid PID) (*Process, bool) {
	if pid == IdlePID {
		return nil, false
	}
	h, ok := t.byPID[pid]
	if !ok {
		return nil, false
	}
	delete(t.byPID, pid)
	return t.slots.Remove(h)
}

// Each visits every process, idle first, until fn returns false.
func (t *Table) Each(fn func(*Process) bool) {
	t.slots.Each(func(_ arena.Handle, p *Process) bool {
		return fn(p)
	})
}

// Len returns the number of processes including idle.
func (t *Table) Len() int {
	return t.slots.Len()
}

// Cap returns the table capacity including the idle slot.
func (t *Table) Cap() int {
	return t.slots.Cap()
}

// Counts tallies processes by state. Idle is left out.
func (t *Table) Counts() map[State]int {
	counts := make(map[State]int)
	t.Each(func(p *Process) bool {
		if p.PID != IdlePID {
			counts[p.State]++
		}
		return true
	})
	return counts
}
