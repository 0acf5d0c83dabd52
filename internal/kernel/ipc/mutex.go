package ipc

import (
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// Mutex is an owned lock with optional recursion. A waiter more urgent than
// the owner lends the owner its priority until the lock is released.
type Mutex struct {
	recursive bool
	owner     arena.Handle
	ownerPID  proc.PID
	count     int
	boosted   bool
	waiters   *proc.WaitList
	woken     map[arena.Handle]struct{}
}

// MutexInfo describes one mutex.
type MutexInfo struct {
	ID        string   `json:"id"`
	Recursive bool     `json:"recursive"`
	Owner     proc.PID `json:"owner"`
	Count     int      `json:"lock_count"`
	Inherited bool     `json:"priority_inherited"`
	Waiters   int      `json:"waiters"`
}

func (m *Manager) mutexInfo(h arena.Handle, mu *Mutex) MutexInfo {
	return MutexInfo{
		ID:        h.String(),
		Recursive: mu.recursive,
		Owner:     mu.ownerPID,
		Count:     mu.count,
		Inherited: mu.boosted,
		Waiters:   mu.waiters.Len(),
	}
}

func (mu *Mutex) release() {
	mu.owner = arena.Handle{}
	mu.ownerPID = 0
	mu.count = 0
	mu.boosted = false
}

// MutexCreate creates an unlocked mutex.
func (m *Manager) MutexCreate(recursive bool) (arena.Handle, error) {
	h, err := m.mutex.Insert(&Mutex{
		recursive: recursive,
		waiters:   m.newWaitList(),
		woken:     make(map[arena.Handle]struct{}),
	})
	if err != nil {
		return arena.Handle{}, ErrNoMutexSlot
	}
	return h, nil
}

// MutexLock acquires the mutex for the caller. A recursive mutex already
// held by the caller bumps its lock count; a non-recursive one fails with
// ErrDeadlock.
func (m *Manager) MutexLock(c Caller, id arena.Handle) error {
	mu, ok := m.mutex.Get(id)
	if !ok {
		return ErrRemoved
	}
	delete(mu.woken, c.P.Handle)
	if mu.owner.IsZero() {
		mu.owner = c.P.Handle
		mu.ownerPID = c.P.PID
		mu.count = 1
		m.satisfied(c, mu.waiters)
		return nil
	}
	if mu.owner == c.P.Handle {
		if !mu.recursive {
			return ErrDeadlock
		}
		mu.count++
		return nil
	}

	if owner, ok := m.resolve(mu.owner); ok && m.lend(owner, c.P.Priority) {
		mu.boosted = true
	}
	return m.sleep(c, mu.waiters, true, "mutex")
}

// MutexTryLock acquires the mutex or fails with ErrAgain.
func (m *Manager) MutexTryLock(p *proc.Process, id arena.Handle) error {
	mu, ok := m.mutex.Get(id)
	if !ok {
		return ErrRemoved
	}
	if !mu.owner.IsZero() && mu.owner != p.Handle {
		return ErrAgain
	}
	return m.MutexLock(Caller{P: p}, id)
}

// MutexUnlock releases one level of the caller's hold. The final release
// restores an inherited priority and wakes the most urgent waiter.
func (m *Manager) MutexUnlock(p *proc.Process, id arena.Handle) error {
	mu, ok := m.mutex.Get(id)
	if !ok {
		return ErrRemoved
	}
	if mu.owner != p.Handle {
		return ErrNotOwner
	}
	mu.count--
	if mu.count > 0 {
		return nil
	}
	mu.release()
	m.restore(p)
	m.wakeOne(mu.waiters, mu.woken)
	return nil
}

// MutexDestroy removes the mutex. Waiters wake and fail with ErrRemoved.
func (m *Manager) MutexDestroy(id arena.Handle) error {
	mu, ok := m.mutex.Remove(id)
	if !ok {
		return ErrRemoved
	}
	if owner, ok := m.resolve(mu.owner); ok {
		m.restore(owner)
	}
	m.wakeAll(mu.waiters)
	m.logger.Debug("mutex destroyed", zap.Stringer("mutex", id))
	return nil
}
