package ipc

import (
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/rtos"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/sched"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

var (
	ErrNoPipeSlot      = kerr.New(kerr.CodeError, "no free pipe slot")
	ErrNoQueueSlot     = kerr.New(kerr.CodeError, "no free message queue slot")
	ErrNoSemaphoreSlot = kerr.New(kerr.CodeError, "no free semaphore slot")
	ErrNoMutexSlot     = kerr.New(kerr.CodeError, "no free mutex slot")
	ErrNoEventSlot     = kerr.New(kerr.CodeError, "no free event flag slot")

	ErrRemoved     = kerr.New(kerr.CodeError, "ipc object removed")
	ErrNotFound    = kerr.New(kerr.CodeError, "no ipc object with that key")
	ErrExists      = kerr.New(kerr.CodeError, "ipc object with that key exists")
	ErrAgain       = kerr.New(kerr.CodeError, "resource temporarily unavailable")
	ErrNoMessage   = kerr.New(kerr.CodeError, "no message of the requested type")
	ErrBrokenPipe  = kerr.New(kerr.CodeError, "write to pipe with no readers")
	ErrOverflow    = kerr.New(kerr.CodeError, "semaphore at its maximum value")
	ErrNotOwner    = kerr.New(kerr.CodeError, "mutex not held by caller")
	ErrDeadlock    = kerr.New(kerr.CodeError, "non-recursive mutex already held by caller")
	ErrWrongEnd    = kerr.New(kerr.CodeInvalidParam, "descriptor is the wrong end of the pipe")
	ErrMessageSize = kerr.New(kerr.CodeInvalidParam, "message larger than the queue allows")
)

// Key names a message queue or semaphore. KeyPrivate always creates a new
// object that cannot be found by key.
type Key int32

const KeyPrivate Key = 0

// Flags for Msgget, Semget, Msgsnd and Msgrcv.
const (
	IPCCreat  = 0o1000
	IPCExcl   = 0o2000
	IPCNoWait = 0o4000
)

// Defaults mirror the kernel's static table sizes.
const (
	DefaultMaxPipes       = 128
	DefaultPipeBufferSize = 4096
	DefaultMaxQueues      = 64
	DefaultQueueDepth     = 1024
	DefaultMaxMessageSize = 256
	DefaultMaxSemaphores  = 128
	DefaultMaxMutexes     = 64
	DefaultMaxEvents      = 64
	DefaultWaitListLimit  = 256
)

// Config sizes the object tables.
type Config struct {
	MaxPipes       int
	PipeBufferSize int
	MaxQueues      int
	QueueDepth     int
	MaxMessageSize int
	MaxSemaphores  int
	MaxMutexes     int
	MaxEvents      int
	WaitListLimit  int
}

// DefaultConfig returns the stock table sizes.
func DefaultConfig() Config {
	return Config{
		MaxPipes:       DefaultMaxPipes,
		PipeBufferSize: DefaultPipeBufferSize,
		MaxQueues:      DefaultMaxQueues,
		QueueDepth:     DefaultQueueDepth,
		MaxMessageSize: DefaultMaxMessageSize,
		MaxSemaphores:  DefaultMaxSemaphores,
		MaxMutexes:     DefaultMaxMutexes,
		MaxEvents:      DefaultMaxEvents,
		WaitListLimit:  DefaultWaitListLimit,
	}
}

// Sender raises signals on behalf of IPC operations.
type Sender interface {
	Send(pid proc.PID, sig signal.Signal) error
}

// Observer is told whenever a caller is put to sleep on an object.
type Observer interface {
	Blocked(resource string)
}

// Caller is the process issuing an operation. A non-zero Deadline is the
// tick at which a blocked wait gives up with kerr.ErrTimeout; zero waits
// forever.
type Caller struct {
	P        *proc.Process
	Deadline uint64
}

// Manager owns every IPC object. It is not safe for concurrent use; the
// kernel lock guards it.
type Manager struct {
	cfg     Config
	sched   *sched.Scheduler
	rtos    *rtos.System
	signals Sender

	pipes  *arena.Arena[*Pipe]
	queues *arena.Arena[*Queue]
	sems   *arena.Arena[*Semaphore]
	mutex  *arena.Arena[*Mutex]
	events *arena.Arena[*EventFlags]

	queueKeys map[Key]arena.Handle
	semKeys   map[Key]arena.Handle

	observer Observer
	logger   *zap.Logger
}

// New creates an IPC manager that blocks and wakes processes through s and
// arms timeouts on rt.
func New(cfg Config, s *sched.Scheduler, rt *rtos.System, signals Sender, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxPipes <= 0 {
		cfg.MaxPipes = def.MaxPipes
	}
	if cfg.PipeBufferSize <= 0 {
		cfg.PipeBufferSize = def.PipeBufferSize
	}
	if cfg.MaxQueues <= 0 {
		cfg.MaxQueues = def.MaxQueues
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxSemaphores <= 0 {
		cfg.MaxSemaphores = def.MaxSemaphores
	}
	if cfg.MaxMutexes <= 0 {
		cfg.MaxMutexes = def.MaxMutexes
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.WaitListLimit <= 0 {
		cfg.WaitListLimit = def.WaitListLimit
	}
	return &Manager{
		cfg:       cfg,
		sched:     s,
		rtos:      rt,
		signals:   signals,
		pipes:     arena.New[*Pipe](cfg.MaxPipes),
		queues:    arena.New[*Queue](cfg.MaxQueues),
		sems:      arena.New[*Semaphore](cfg.MaxSemaphores),
		mutex:     arena.New[*Mutex](cfg.MaxMutexes),
		events:    arena.New[*EventFlags](cfg.MaxEvents),
		queueKeys: make(map[Key]arena.Handle),
		semKeys:   make(map[Key]arena.Handle),
		logger:    logger.Named("ipc"),
	}
}

// SetObserver registers o for block notifications.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// Config returns the effective table sizes.
func (m *Manager) Config() Config {
	return m.cfg
}

// sleep registers c on w and blocks it, unless its deadline has already
// passed. byPriority selects priority-ordered insertion.
func (m *Manager) sleep(c Caller, w *proc.WaitList, byPriority bool, resource string) error {
	h := c.P.Handle
	if c.Deadline != 0 && m.rtos.Ticks() >= c.Deadline {
		w.Remove(h)
		m.rtos.CancelTimeout(h)
		return kerr.ErrTimeout
	}

	var err error
	if byPriority {
		err = w.InsertByPriority(h, c.P.Priority)
	} else {
		err = w.Push(h)
	}
	if err != nil {
		return err
	}
	if c.Deadline != 0 {
		if err := m.rtos.ArmDeadline(h, c.P.PID, c.Deadline); err != nil {
			w.Remove(h)
			return err
		}
	}
	m.sched.Block(c.P)
	if m.observer != nil {
		m.observer.Blocked(resource)
	}
	m.logger.Debug("process blocked",
		zap.Uint32("pid", uint32(c.P.PID)),
		zap.String("resource", resource),
		zap.Uint64("deadline", c.Deadline))
	return kerr.ErrWouldBlock
}

// satisfied ends a wait on w: the caller leaves the list, where an early
// wake-up may have left it, and any armed timeout is dropped.
func (m *Manager) satisfied(c Caller, w *proc.WaitList) {
	w.Remove(c.P.Handle)
	if c.Deadline != 0 {
		m.rtos.CancelTimeout(c.P.Handle)
	}
}

// wakeAll wakes and clears every waiter of w.
func (m *Manager) wakeAll(w *proc.WaitList) int {
	woken := 0
	for _, h := range w.Drain() {
		if p, ok := m.sched.Table().Resolve(h); ok && m.sched.Wake(p) {
			woken++
		}
	}
	return woken
}

// wakeOne wakes the head waiter of w, skipping entries whose process is gone
// or stopped. A head already made runnable by a signal keeps its turn. The
// woken handle stays in pending until it retries or is forgotten, so a
// waiter that abandons the wait can pass the wake-up on.
func (m *Manager) wakeOne(w *proc.WaitList, pending map[arena.Handle]struct{}) bool {
	for {
		h, ok := w.PopFront()
		if !ok {
			return false
		}
		p, ok := m.sched.Table().Resolve(h)
		if !ok {
			continue
		}
		if m.sched.Wake(p) || (p.State.Alive() && p.State != proc.StateBlocked) {
			pending[h] = struct{}{}
			return true
		}
	}
}

func (m *Manager) resolve(h arena.Handle) (*proc.Process, bool) {
	return m.sched.Table().Resolve(h)
}

// Forget removes p from every wait list. The kernel calls it when a blocked
// call is cancelled and when p exits. A semaphore unit or mutex that woke p
// and is still free wakes the next waiter instead.
func (m *Manager) Forget(p *proc.Process) {
	h := p.Handle
	m.pipes.Each(func(_ arena.Handle, pp *Pipe) bool {
		pp.readWait.Remove(h)
		pp.writeWait.Remove(h)
		return true
	})
	m.queues.Each(func(_ arena.Handle, q *Queue) bool {
		q.senders.Remove(h)
		q.receivers.Remove(h)
		return true
	})
	m.sems.Each(func(_ arena.Handle, s *Semaphore) bool {
		s.waiters.Remove(h)
		if _, ok := s.woken[h]; ok {
			delete(s.woken, h)
			if s.value > 0 {
				m.wakeOne(s.waiters, s.woken)
			}
		}
		return true
	})
	m.mutex.Each(func(_ arena.Handle, mu *Mutex) bool {
		mu.waiters.Remove(h)
		if _, ok := mu.woken[h]; ok {
			delete(mu.woken, h)
			if mu.owner.IsZero() {
				m.wakeOne(mu.waiters, mu.woken)
			}
		}
		return true
	})
	m.events.Each(func(_ arena.Handle, e *EventFlags) bool {
		e.waiters.Remove(h)
		return true
	})
	m.rtos.CancelTimeout(h)
}

// ReleaseOwned drops everything p holds: semaphore units are returned and
// owned mutexes are unlocked, waking the next waiter of each.
func (m *Manager) ReleaseOwned(p *proc.Process) {
	m.sems.Each(func(_ arena.Handle, s *Semaphore) bool {
		if n := s.holders[p.PID]; n > 0 {
			delete(s.holders, p.PID)
			delete(s.boosted, p.PID)
			s.value = min(s.value+n, s.max)
			m.wakeOne(s.waiters, s.woken)
		}
		return true
	})
	m.mutex.Each(func(_ arena.Handle, mu *Mutex) bool {
		if mu.owner == p.Handle {
			mu.release()
			m.wakeOne(mu.waiters, mu.woken)
		}
		return true
	})
}

// lend raises holder to prio when prio is more urgent. It reports whether a
// boost was applied.
func (m *Manager) lend(holder *proc.Process, prio proc.Priority) bool {
	if prio >= holder.Priority {
		return false
	}
	m.sched.SetPriority(holder, prio)
	holder.Boosted = true
	m.logger.Debug("priority inherited",
		zap.Uint32("pid", uint32(holder.PID)),
		zap.Uint8("priority", uint8(prio)),
		zap.Uint8("base", uint8(holder.BasePriority)))
	return true
}

// restore drops holder to the most urgent priority still lent to it by the
// waiters of the semaphores and mutexes it holds, or to its base priority.
func (m *Manager) restore(holder *proc.Process) {
	if !holder.Boosted {
		return
	}
	prio := holder.BasePriority
	m.sems.Each(func(_ arena.Handle, s *Semaphore) bool {
		if s.holders[holder.PID] > 0 {
			if p, ok := s.waiters.MostUrgent(); ok && p < prio {
				prio = p
			}
		}
		return true
	})
	m.mutex.Each(func(_ arena.Handle, mu *Mutex) bool {
		if mu.owner == holder.Handle {
			if p, ok := mu.waiters.MostUrgent(); ok && p < prio {
				prio = p
			}
		}
		return true
	})
	holder.Boosted = prio < holder.BasePriority
	m.sched.SetPriority(holder, prio)
}

func (m *Manager) newWaitList() *proc.WaitList {
	return proc.NewWaitList(m.cfg.WaitListLimit)
}

// Stats counts live objects and blocked processes.
type Stats struct {
	Pipes      int `json:"pipes"`
	Queues     int `json:"message_queues"`
	Semaphores int `json:"semaphores"`
	Mutexes    int `json:"mutexes"`
	Events     int `json:"event_flags"`
	Blocked    int `json:"blocked_waiters"`
}

// Stats returns object and waiter counts.
func (m *Manager) Stats() Stats {
	st := Stats{
		Pipes:      m.pipes.Len(),
		Queues:     m.queues.Len(),
		Semaphores: m.sems.Len(),
		Mutexes:    m.mutex.Len(),
		Events:     m.events.Len(),
	}
	m.pipes.Each(func(_ arena.Handle, p *Pipe) bool {
		st.Blocked += p.readWait.Len() + p.writeWait.Len()
		return true
	})
	m.queues.Each(func(_ arena.Handle, q *Queue) bool {
		st.Blocked += q.senders.Len() + q.receivers.Len()
		return true
	})
	m.sems.Each(func(_ arena.Handle, s *Semaphore) bool {
		st.Blocked += s.waiters.Len()
		return true
	})
	m.mutex.Each(func(_ arena.Handle, mu *Mutex) bool {
		st.Blocked += mu.waiters.Len()
		return true
	})
	m.events.Each(func(_ arena.Handle, e *EventFlags) bool {
		st.Blocked += e.waiters.Len()
		return true
	})
	return st
}

// Snapshot describes every live object.
type Snapshot struct {
	Pipes      []PipeInfo      `json:"pipes"`
	Queues     []QueueInfo     `json:"message_queues"`
	Semaphores []SemaphoreInfo `json:"semaphores"`
	Mutexes    []MutexInfo     `json:"mutexes"`
	Events     []EventInfo     `json:"event_flags"`
}

// Snapshot returns per-object state for introspection.
func (m *Manager) Snapshot() Snapshot {
	var s Snapshot
	m.pipes.Each(func(h arena.Handle, p *Pipe) bool {
		s.Pipes = append(s.Pipes, p.info(h))
		return true
	})
	m.queues.Each(func(h arena.Handle, q *Queue) bool {
		s.Queues = append(s.Queues, q.info(h))
		return true
	})
	m.sems.Each(func(h arena.Handle, sem *Semaphore) bool {
		s.Semaphores = append(s.Semaphores, sem.info(h))
		return true
	})
	m.mutex.Each(func(h arena.Handle, mu *Mutex) bool {
		s.Mutexes = append(s.Mutexes, m.mutexInfo(h, mu))
		return true
	})
	m.events.Each(func(h arena.Handle, e *EventFlags) bool {
		s.Events = append(s.Events, e.info(h))
		return true
	})
	return s
}
