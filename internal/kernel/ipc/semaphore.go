package ipc

import (
	"maps"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// Semaphore is a counting semaphore. It records which processes hold units
// so that a blocked waiter can lend its priority to them.
type Semaphore struct {
	key     Key
	tag     uuid.UUID
	value   int
	max     int
	waiters *proc.WaitList

	holders map[proc.PID]int
	boosted map[proc.PID]struct{}
	woken   map[arena.Handle]struct{}
}

// SemaphoreInfo describes one semaphore.
type SemaphoreInfo struct {
	ID      string     `json:"id"`
	Key     Key        `json:"key"`
	Tag     string     `json:"tag"`
	Value   int        `json:"value"`
	Max     int        `json:"max"`
	Waiters int        `json:"waiters"`
	Holders []proc.PID `json:"holders"`
}

func (s *Semaphore) info(h arena.Handle) SemaphoreInfo {
	return SemaphoreInfo{
		ID:      h.String(),
		Key:     s.key,
		Tag:     s.tag.String(),
		Value:   s.value,
		Max:     s.max,
		Waiters: s.waiters.Len(),
		Holders: slices.Sorted(maps.Keys(s.holders)),
	}
}

// Value returns the current count.
func (s *Semaphore) Value() int {
	return s.value
}

// Semget returns the semaphore registered under key, creating it with the
// given initial and maximum value when flags carry IPCCreat.
func (m *Manager) Semget(key Key, initial, maxValue int, flags int) (arena.Handle, error) {
	if key != KeyPrivate {
		if h, ok := m.semKeys[key]; ok {
			if flags&IPCCreat != 0 && flags&IPCExcl != 0 {
				return arena.Handle{}, ErrExists
			}
			return h, nil
		}
		if flags&IPCCreat == 0 {
			return arena.Handle{}, ErrNotFound
		}
	}
	if maxValue < 1 || initial < 0 || initial > maxValue {
		return arena.Handle{}, kerr.ErrInvalidParam
	}

	s := &Semaphore{
		key:     key,
		tag:     uuid.New(),
		value:   initial,
		max:     maxValue,
		waiters: m.newWaitList(),
		holders: make(map[proc.PID]int),
		boosted: make(map[proc.PID]struct{}),
		woken:   make(map[arena.Handle]struct{}),
	}
	h, err := m.sems.Insert(s)
	if err != nil {
		return arena.Handle{}, ErrNoSemaphoreSlot
	}
	if key != KeyPrivate {
		m.semKeys[key] = h
	}
	m.logger.Debug("semaphore created",
		zap.Int32("key", int32(key)),
		zap.Stringer("semaphore", h),
		zap.Int("value", initial),
		zap.Int("max", maxValue))
	return h, nil
}

// Semaphore returns the semaphore named by id.
func (m *Manager) Semaphore(id arena.Handle) (*Semaphore, bool) {
	return m.sems.Get(id)
}

// SemWait takes one unit. On contention the most urgent priority among the
// caller and the current waiters is lent to every holder less urgent than
// it, and the caller queues in priority order until SemSignal wakes it or
// its deadline passes.
func (m *Manager) SemWait(c Caller, id arena.Handle) error {
	s, ok := m.sems.Get(id)
	if !ok {
		return ErrRemoved
	}
	delete(s.woken, c.P.Handle)
	if s.value > 0 {
		s.acquire(c.P.PID)
		m.satisfied(c, s.waiters)
		return nil
	}

	prio := c.P.Priority
	if p, ok := s.waiters.MostUrgent(); ok && p < prio {
		prio = p
	}
	for pid := range s.holders {
		holder, ok := m.sched.Table().Lookup(pid)
		if !ok || holder == c.P {
			continue
		}
		if m.lend(holder, prio) {
			s.boosted[pid] = struct{}{}
		}
	}
	return m.sleep(c, s.waiters, true, "semaphore")
}

// SemTryWait takes one unit or fails with ErrAgain without blocking.
func (m *Manager) SemTryWait(p *proc.Process, id arena.Handle) error {
	s, ok := m.sems.Get(id)
	if !ok {
		return ErrRemoved
	}
	if s.value == 0 {
		return ErrAgain
	}
	s.acquire(p.PID)
	return nil
}

// SemSignal returns one unit and wakes the most urgent waiter. A holder
// that had a priority lent to it gets its base priority back.
func (m *Manager) SemSignal(p *proc.Process, id arena.Handle) error {
	s, ok := m.sems.Get(id)
	if !ok {
		return ErrRemoved
	}
	if s.value >= s.max {
		return ErrOverflow
	}
	s.value++
	if n := s.holders[p.PID]; n > 1 {
		s.holders[p.PID] = n - 1
	} else if n == 1 {
		delete(s.holders, p.PID)
	}
	if s.holders[p.PID] == 0 {
		delete(s.boosted, p.PID)
		m.restore(p)
	}
	m.wakeOne(s.waiters, s.woken)
	return nil
}

// SemRemove destroys the semaphore. Waiters wake and fail with ErrRemoved.
func (m *Manager) SemRemove(id arena.Handle) error {
	s, ok := m.sems.Remove(id)
	if !ok {
		return ErrRemoved
	}
	if s.key != KeyPrivate {
		delete(m.semKeys, s.key)
	}
	for pid := range s.holders {
		if holder, ok := m.sched.Table().Lookup(pid); ok {
			m.restore(holder)
		}
	}
	m.wakeAll(s.waiters)
	return nil
}

func (s *Semaphore) acquire(pid proc.PID) {
	s.value--
	s.holders[pid]++
}
