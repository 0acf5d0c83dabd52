package kernel

import (
	"context"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/ipc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// Pipe creates a pipe owned by pid and returns its read and write
// descriptors.
func (k *Kernel) Pipe(pid proc.PID) (readFD, writeFD int, err error) {
	err = k.do(pid, func(p *proc.Process) error {
		var err error
		readFD, writeFD, err = k.ipc.PipeCreate(p)
		return err
	})
	return readFD, writeFD, err
}

// PipeRead reads up to n bytes from fd, blocking while the pipe is empty and
// a writer remains. An empty result means end of file. Zero timeoutMs waits
// forever.
func (k *Kernel) PipeRead(ctx context.Context, pid proc.PID, fd, n int, timeoutMs uint32) ([]byte, error) {
	var out []byte
	err := k.wait(ctx, pid, timeoutMs, func(c ipc.Caller) error {
		var err error
		out, err = k.ipc.PipeRead(c, fd, n)
		return err
	})
	return out, err
}

// PipeWrite writes all of data to fd. Data larger than the pipe buffer goes
// in chunks as readers drain it. On error the bytes already written are
// reported alongside it.
func (k *Kernel) PipeWrite(ctx context.Context, pid proc.PID, fd int, data []byte) (int, error) {
	written := 0
	for {
		err := k.wait(ctx, pid, 0, func(c ipc.Caller) error {
			n, err := k.ipc.PipeWrite(c, fd, data[written:])
			written += n
			return err
		})
		if err != nil || written == len(data) {
			return written, err
		}
	}
}

// Msgget looks up or creates the message queue named key.
func (k *Kernel) Msgget(key ipc.Key, flags int) (arena.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.Msgget(key, flags)
}

// Msgsnd queues a message, blocking while the queue is full unless flags
// carry ipc.IPCNoWait.
func (k *Kernel) Msgsnd(ctx context.Context, pid proc.PID, id arena.Handle, typ int64, data []byte, flags int) error {
	return k.wait(ctx, pid, 0, func(c ipc.Caller) error {
		return k.ipc.Msgsnd(c, id, typ, data, flags)
	})
}

// Msgrcv receives a message of type typ, or the oldest one when typ is zero.
func (k *Kernel) Msgrcv(ctx context.Context, pid proc.PID, id arena.Handle, maxSize int, typ int64, flags int) (ipc.Message, error) {
	var msg ipc.Message
	err := k.wait(ctx, pid, 0, func(c ipc.Caller) error {
		var err error
		msg, err = k.ipc.Msgrcv(c, id, maxSize, typ, flags)
		return err
	})
	return msg, err
}

// MsgctlRemove destroys a message queue.
func (k *Kernel) MsgctlRemove(id arena.Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.MsgctlRemove(id)
}

// Semget looks up or creates the semaphore named key.
func (k *Kernel) Semget(key ipc.Key, initial, maxValue, flags int) (arena.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.Semget(key, initial, maxValue, flags)
}

// SemWait takes one unit, blocking until one is available or timeoutMs
// elapses. Zero timeoutMs waits forever.
func (k *Kernel) SemWait(ctx context.Context, pid proc.PID, id arena.Handle, timeoutMs uint32) error {
	return k.wait(ctx, pid, timeoutMs, func(c ipc.Caller) error {
		return k.ipc.SemWait(c, id)
	})
}

// SemTryWait takes one unit without blocking.
func (k *Kernel) SemTryWait(pid proc.PID, id arena.Handle) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.ipc.SemTryWait(p, id)
	})
}

// SemSignal returns one unit.
func (k *Kernel) SemSignal(pid proc.PID, id arena.Handle) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.ipc.SemSignal(p, id)
	})
}

// SemRemove destroys a semaphore.
func (k *Kernel) SemRemove(id arena.Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.SemRemove(id)
}

// MutexCreate creates a mutex.
func (k *Kernel) MutexCreate(recursive bool) (arena.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.MutexCreate(recursive)
}

// MutexLock acquires a mutex, blocking until it is handed over or timeoutMs
// elapses.
func (k *Kernel) MutexLock(ctx context.Context, pid proc.PID, id arena.Handle, timeoutMs uint32) error {
	return k.wait(ctx, pid, timeoutMs, func(c ipc.Caller) error {
		return k.ipc.MutexLock(c, id)
	})
}

// MutexTryLock acquires a mutex without blocking.
func (k *Kernel) MutexTryLock(pid proc.PID, id arena.Handle) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.ipc.MutexTryLock(p, id)
	})
}

// MutexUnlock releases a mutex held by pid.
func (k *Kernel) MutexUnlock(pid proc.PID, id arena.Handle) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.ipc.MutexUnlock(p, id)
	})
}

// MutexDestroy removes a mutex.
func (k *Kernel) MutexDestroy(id arena.Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.MutexDestroy(id)
}

// EventCreate creates an event flag group.
func (k *Kernel) EventCreate(autoClear bool) (arena.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.EventCreate(autoClear)
}

// EventSet sets flags and wakes the waiters.
func (k *Kernel) EventSet(id arena.Handle, flags uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.EventSet(id, flags)
}

// EventClear clears flags.
func (k *Kernel) EventClear(id arena.Handle, flags uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.EventClear(id, flags)
}

// EventWait blocks until any, or with all every, flag of mask is set.
func (k *Kernel) EventWait(ctx context.Context, pid proc.PID, id arena.Handle, mask uint32, all bool, timeoutMs uint32) (uint32, error) {
	var got uint32
	err := k.wait(ctx, pid, timeoutMs, func(c ipc.Caller) error {
		var err error
		got, err = k.ipc.EventWait(c, id, mask, all)
		return err
	})
	return got, err
}

// EventDestroy removes an event flag group.
func (k *Kernel) EventDestroy(id arena.Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.EventDestroy(id)
}

// IPCSnapshot describes every live IPC object.
func (k *Kernel) IPCSnapshot() ipc.Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ipc.Snapshot()
}
