package sched

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
)

// ErrRTQueueFull is returned when every real-time slot is taken.
var ErrRTQueueFull = kerr.New(kerr.CodeError, "real-time queue full")

// rtQueue is a bounded priority queue kept sorted by insertion. Equal
// priorities keep arrival order.
type rtQueue struct {
	procs []*proc.Process
	limit int
}

func newRTQueue(limit int) *rtQueue {
	return &rtQueue{limit: limit}
}

// insert queues p behind every process of equal or more urgent priority.
func (q *rtQueue) insert(p *proc.Process) error {
	return q.place(p, func(other *proc.Process) bool { return p.Priority < other.Priority })
}

// insertHead queues p ahead of its equal-priority peers.
func (q *rtQueue) insertHead(p *proc.Process) error {
	return q.place(p, func(other *proc.Process) bool { return p.Priority <= other.Priority })
}

func (q *rtQueue) place(p *proc.Process, before func(other *proc.Process) bool) error {
	if q.contains(p) {
		return nil
	}
	if len(q.procs) >= q.limit {
		return ErrRTQueueFull
	}
	pos := len(q.procs)
	for i, other := range q.procs {
		if before(other) {
			pos = i
			break
		}
	}
	q.procs = append(q.procs, nil)
	copy(q.procs[pos+1:], q.procs[pos:])
	q.procs[pos] = p
	return nil
}

func (q *rtQueue) peek() (*proc.Process, bool) {
	if len(q.procs) == 0 {
		return nil, false
	}
	return q.procs[0], true
}

func (q *rtQueue) pop() (*proc.Process, bool) {
	p, ok := q.peek()
	if ok {
		q.procs = q.procs[1:]
	}
	return p, ok
}

func (q *rtQueue) remove(p *proc.Process) bool {
	for i, other := range q.procs {
		if other == p {
			q.procs = append(q.procs[:i], q.procs[i+1:]...)
			return true
		}
	}
	return false
}

func (q *rtQueue) contains(p *proc.Process) bool {
	for _, other := range q.procs {
		if other == p {
			return true
		}
	}
	return false
}

func (q *rtQueue) len() int {
	return len(q.procs)
}
