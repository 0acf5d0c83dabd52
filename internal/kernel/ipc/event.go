package ipc

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// EventFlags is a 32-bit flag word that processes wait on.
type EventFlags struct {
	flags     uint32
	autoClear bool
	waiters   *proc.WaitList
}

// EventInfo describes one event flag group.
type EventInfo struct {
	ID        string `json:"id"`
	Flags     uint32 `json:"flags"`
	AutoClear bool   `json:"auto_clear"`
	Waiters   int    `json:"waiters"`
}

func (e *EventFlags) info(h arena.Handle) EventInfo {
	return EventInfo{ID: h.String(), Flags: e.flags, AutoClear: e.autoClear, Waiters: e.waiters.Len()}
}

// EventCreate creates a flag group with every flag clear. With autoClear a
// satisfied wait consumes the flags it matched.
func (m *Manager) EventCreate(autoClear bool) (arena.Handle, error) {
	h, err := m.events.Insert(&EventFlags{autoClear: autoClear, waiters: m.newWaitList()})
	if err != nil {
		return arena.Handle{}, ErrNoEventSlot
	}
	return h, nil
}

// EventSet raises flags and wakes every waiter to re-check its condition.
func (m *Manager) EventSet(id arena.Handle, flags uint32) error {
	e, ok := m.events.Get(id)
	if !ok {
		return ErrRemoved
	}
	e.flags |= flags
	m.wakeAll(e.waiters)
	return nil
}

// EventClear lowers flags.
func (m *Manager) EventClear(id arena.Handle, flags uint32) error {
	e, ok := m.events.Get(id)
	if !ok {
		return ErrRemoved
	}
	e.flags &^= flags
	return nil
}

// EventFlagsOf returns the current flag word.
func (m *Manager) EventFlagsOf(id arena.Handle) (uint32, error) {
	e, ok := m.events.Get(id)
	if !ok {
		return 0, ErrRemoved
	}
	return e.flags, nil
}

// EventWait blocks until any (or, with all, every) flag of mask is set and
// returns the matching flags.
func (m *Manager) EventWait(c Caller, id arena.Handle, mask uint32, all bool) (uint32, error) {
	if mask == 0 {
		return 0, kerr.ErrInvalidParam
	}
	e, ok := m.events.Get(id)
	if !ok {
		return 0, ErrRemoved
	}
	got := e.flags & mask
	if (all && got != mask) || (!all && got == 0) {
		return 0, m.sleep(c, e.waiters, false, "event")
	}
	if e.autoClear {
		e.flags &^= got
	}
	m.satisfied(c, e.waiters)
	return got, nil
}

// EventDestroy removes the flag group. Waiters wake and fail with
// ErrRemoved.
func (m *Manager) EventDestroy(id arena.Handle) error {
	e, ok := m.events.Remove(id)
	if !ok {
		return ErrRemoved
	}
	m.wakeAll(e.waiters)
	return nil
}
