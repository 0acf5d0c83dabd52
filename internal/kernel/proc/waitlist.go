package proc

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// ErrWaitListFull is returned when a wait list reaches its bound.
var ErrWaitListFull = kerr.New(kerr.CodeError, "wait list full")

// WaitList is a bounded list of process handles blocked on one resource.
type WaitList struct {
	entries []waiter
	limit   int
}

type waiter struct {
	handle   arena.Handle
	priority Priority
}

// NewWaitList creates a wait list holding at most limit processes.
func NewWaitList(limit int) *WaitList {
	return &WaitList{limit: limit}
}

// Len returns the number of waiters.
func (w *WaitList) Len() int {
	return len(w.entries)
}

// Contains reports whether h is waiting.
func (w *WaitList) Contains(h arena.Handle) bool {
	return w.index(h) >= 0
}

// Push appends h at the tail.
func (w *WaitList) Push(h arena.Handle) error {
	if w.Contains(h) {
		return nil
	}
	if len(w.entries) >= w.limit {
		return ErrWaitListFull
	}
	w.entries = append(w.entries, waiter{handle: h})
	return nil
}

// InsertByPriority inserts h before the first waiter that is strictly less
// urgent, keeping FIFO order among equal priorities.
func (w *WaitList) InsertByPriority(h arena.Handle, prio Priority) error {
	if w.Contains(h) {
		return nil
	}
	if len(w.entries) >= w.limit {
		return ErrWaitListFull
	}
	pos := len(w.entries)
	for i, e := range w.entries {
		if prio < e.priority {
			pos = i
			break
		}
	}
	w.entries = append(w.entries, waiter{})
	copy(w.entries[pos+1:], w.entries[pos:])
	w.entries[pos] = waiter{handle: h, priority: prio}
	return nil
}

// PopFront removes and returns the head waiter.
func (w *WaitList) PopFront() (arena.Handle, bool) {
	if len(w.entries) == 0 {
		return arena.Handle{}, false
	}
	h := w.entries[0].handle
	w.entries = w.entries[1:]
	return h, true
}

// Remove drops h from the list.
func (w *WaitList) Remove(h arena.Handle) bool {
	i := w.index(h)
	if i < 0 {
		return false
	}
	w.entries = append(w.entries[:i], w.entries[i+1:]...)
	return true
}

// Drain empties the list and returns the waiters in order.
func (w *WaitList) Drain() []arena.Handle {
	out := w.Handles()
	w.entries = w.entries[:0]
	return out
}

// Handles returns a copy of the waiters in order.
func (w *WaitList) Handles() []arena.Handle {
	out := make([]arena.Handle, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.handle
	}
	return out
}

// MostUrgent returns the lowest priority value among waiters.
func (w *WaitList) MostUrgent() (Priority, bool) {
	if len(w.entries) == 0 {
		return 0, false
	}
	best := w.entries[0].priority
	for _, e := range w.entries[1:] {
		if e.priority < best {
			best = e.priority
		}
	}
	return best, true
}

func (w *WaitList) index(h arena.Handle) int {
	for i, e := range w.entries {
		if e.handle == h {
			return i
		}
	}
	return -1
}
