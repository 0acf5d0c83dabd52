package kernel

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/ipc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/mm"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
)

var (
	ErrNotChild        = kerr.New(kerr.CodeInvalidParam, "not a child of the caller")
	ErrNotExited       = kerr.New(kerr.CodeError, "child has not exited")
	ErrTooManyChildren = kerr.New(kerr.CodeError, "children list full")
)

func pidField(pid proc.PID) zap.Field {
	return zap.Uint32("pid", uint32(pid))
}

// CreateProcess creates a ready process with an empty address space. The new
// process has no parent other than idle.
func (k *Kernel) CreateProcess(name string, entry uint64, prio proc.Priority) (proc.PID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, err := k.sched.Create(name, entry, prio, proc.IdlePID)
	if err != nil {
		return 0, err
	}
	as, err := k.mm.NewSpace(p.PID)
	if err != nil {
		k.discard(p)
		return 0, err
	}
	p.Context.CR3 = as.Root()

	k.logger.Info("process created",
		pidField(p.PID),
		zap.String("name", name),
		zap.Uint8("priority", uint8(prio)))
	return p.PID, nil
}

// discard drops a process that never ran.
func (k *Kernel) discard(p *proc.Process) {
	k.sched.Exit(p, 0)
	k.table.Remove(p.PID)
}

// Fork duplicates pid. The child shares the parent's pages copy-on-write,
// inherits its descriptors, signal dispositions and scheduling class, and
// sees 0 in RAX while the parent sees the child's PID.
func (k *Kernel) Fork(pid proc.PID) (proc.PID, error) {
	var child proc.PID
	err := k.do(pid, func(p *proc.Process) error {
		c := &proc.Process{
			PPID:         p.PID,
			Name:         p.Name,
			Priority:     p.BasePriority,
			BasePriority: p.BasePriority,
			Nice:         p.Nice,
			Weight:       p.Weight,
			Context:      p.Context,
			VMBase:       p.VMBase,
			VMSize:       p.VMSize,
		}
		c.Context.RAX = 0
		c.Signals.Blocked = p.Signals.Blocked
		c.Signals.Handlers = p.Signals.Handlers

		if err := k.sched.Admit(c); err != nil {
			return err
		}
		if p.Realtime {
			if err := k.sched.SetRealtimePriority(c, p.BasePriority); err != nil {
				k.discard(c)
				return err
			}
		}
		if err := k.mm.Fork(p.PID, c.PID); err != nil {
			k.discard(c)
			return err
		}
		if !p.AddChild(c.PID) {
			k.mm.Destroy(c.PID)
			k.discard(c)
			return ErrTooManyChildren
		}
		if as, ok := k.mm.Space(c.PID); ok {
			c.Context.CR3 = as.Root()
		}

		for i, d := range p.FDs {
			if d == nil {
				continue
			}
			dup := *d
			c.FDs[i] = &dup
			switch d.Kind {
			case proc.FDPipeRead, proc.FDPipeWrite:
				k.ipc.PipeDup(&dup)
			case proc.FDFile:
				k.openRefs[d.File]++
			}
		}

		for _, f := range k.mapped[p.PID] {
			k.openRefs[f]++
			k.mapped[c.PID] = append(k.mapped[c.PID], f)
		}

		p.Context.RAX = uint64(c.PID)
		child = c.PID
		k.logger.Info("process forked",
			zap.Uint32("parent", uint32(p.PID)),
			zap.Uint32("child", uint32(c.PID)))
		return nil
	})
	return child, err
}

// Exit terminates pid with code.
func (k *Kernel) Exit(pid proc.PID, code int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, err := k.live(pid)
	if err != nil {
		return err
	}
	k.exit(p, code)
	return nil
}

// exit releases everything p holds and leaves it a zombie for its parent to
// reap. Children are handed to idle. Callers hold k.mu.
func (k *Kernel) exit(p *proc.Process, code int) {
	if !p.State.Alive() || p.PID == proc.IdlePID {
		return
	}
	k.ipc.Forget(p)
	k.ipc.ReleaseOwned(p)
	k.ipc.CloseAll(p)
	k.mm.Destroy(p.PID)
	k.closeFiles(p)
	k.rtos.CancelTimeout(p.Handle)

	for _, cpid := range p.Children {
		if c, ok := k.table.Lookup(cpid); ok {
			c.PPID = proc.IdlePID
		}
	}
	p.Children = nil
	p.Stopped = false

	k.sched.Exit(p, code)
	k.logger.Info("process exited", pidField(p.PID), zap.Int("code", code))

	if p.PPID != proc.IdlePID {
		if err := k.signals.Send(p.PPID, signal.SIGCHLD); err != nil && !errors.Is(err, kerr.ErrNoProcess) {
			k.logger.Warn("SIGCHLD not sent", pidField(p.PPID), zap.Error(err))
		}
	}
}

// Reap collects the exit code of an exited child of parent and frees its
// slot. Orphans belong to idle (PID 0), which the host reaps.
func (k *Kernel) Reap(parent, child proc.PID) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reap(parent, child)
}

func (k *Kernel) reap(parent, child proc.PID) (int, error) {
	c, ok := k.table.Lookup(child)
	if !ok || child == proc.IdlePID {
		return 0, kerr.ErrNoProcess
	}
	if c.PPID != parent {
		return 0, ErrNotChild
	}
	if c.State != proc.StateZombie {
		return 0, ErrNotExited
	}
	k.table.Remove(child)
	if p, ok := k.table.Lookup(parent); ok {
		p.RemoveChild(child)
	}
	return c.ExitCode, nil
}

// WaitChild blocks parent until child exits, then reaps it.
func (k *Kernel) WaitChild(ctx context.Context, parent, child proc.PID) (int, error) {
	var code int
	err := k.wait(ctx, parent, 0, func(c ipc.Caller) error {
		var err error
		code, err = k.reap(parent, child)
		if errors.Is(err, ErrNotExited) {
			k.sched.Block(c.P)
			return kerr.ErrWouldBlock
		}
		return err
	})
	return code, err
}

// Kill sends sig to target. Delivery happens at the target's next delivery
// point: its next system call return, wake-up or timer tick.
func (k *Kernel) Kill(target proc.PID, sig signal.Signal) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.signals.Send(target, sig)
}

// SetSignalHandler installs the disposition of sig for pid.
func (k *Kernel) SetSignalHandler(pid proc.PID, sig signal.Signal, h proc.SignalHandler) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.signals.SetHandler(pid, sig, h)
}

// SignalBlock masks signals of pid.
func (k *Kernel) SignalBlock(pid proc.PID, mask uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.signals.Block(pid, mask)
}

// SignalUnblock unmasks signals of pid. Newly deliverable signals are
// delivered at once.
func (k *Kernel) SignalUnblock(pid proc.PID, mask uint32) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.signals.Unblock(p.PID, mask)
	})
}

// Sleep blocks pid for ms milliseconds of kernel time. Zero yields.
func (k *Kernel) Sleep(ctx context.Context, pid proc.PID, ms uint32) error {
	if ms == 0 {
		return k.Yield(pid)
	}
	return k.wait(ctx, pid, ms, func(c ipc.Caller) error {
		if k.rtos.Ticks() >= c.Deadline {
			return nil
		}
		if err := k.rtos.ArmDeadline(c.P.Handle, c.P.PID, c.Deadline); err != nil {
			return err
		}
		k.sched.Block(c.P)
		return kerr.ErrWouldBlock
	})
}

// Yield gives up the CPU if pid holds it.
func (k *Kernel) Yield(pid proc.PID) error {
	return k.do(pid, func(p *proc.Process) error {
		k.sched.Yield(p)
		return nil
	})
}

// SetRealtimePriority moves pid into the real-time class.
func (k *Kernel) SetRealtimePriority(pid proc.PID, prio proc.Priority) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.sched.SetRealtimePriority(p, prio)
	})
}

// ClearRealtime returns pid to the fair-share class at prio.
func (k *Kernel) ClearRealtime(pid proc.PID, prio proc.Priority) error {
	return k.do(pid, func(p *proc.Process) error {
		k.sched.ClearRealtime(p, prio)
		return nil
	})
}

// SetNice changes the nice value of pid.
func (k *Kernel) SetNice(pid proc.PID, nice int) error {
	return k.do(pid, func(p *proc.Process) error {
		k.sched.SetNice(p, nice)
		return nil
	})
}

// ProcessInfo is a snapshot of one process.
type ProcessInfo struct {
	PID            proc.PID       `json:"pid"`
	PPID           proc.PID       `json:"ppid"`
	Name           string         `json:"name"`
	State          string         `json:"state"`
	Priority       proc.Priority  `json:"priority"`
	BasePriority   proc.Priority  `json:"base_priority"`
	Realtime       bool           `json:"realtime"`
	Boosted        bool           `json:"priority_inherited"`
	Stopped        bool           `json:"stopped"`
	Nice           int            `json:"nice"`
	Weight         uint64         `json:"weight"`
	VRuntime       uint64         `json:"vruntime"`
	SumExecRuntime uint64         `json:"sum_exec_runtime"`
	ExitCode       int            `json:"exit_code"`
	Children       []proc.PID     `json:"children"`
	PendingSignals uint32         `json:"pending_signals"`
	BlockedSignals uint32         `json:"blocked_signals"`
	OpenFDs        int            `json:"open_fds"`
	Memory         *mm.SpaceStats `json:"memory,omitempty"`
}

func (k *Kernel) info(p *proc.Process) ProcessInfo {
	info := ProcessInfo{
		PID:            p.PID,
		PPID:           p.PPID,
		Name:           p.Name,
		State:          p.State.String(),
		Priority:       p.Priority,
		BasePriority:   p.BasePriority,
		Realtime:       p.Realtime,
		Boosted:        p.Boosted,
		Stopped:        p.Stopped,
		Nice:           p.Nice,
		Weight:         p.Weight,
		VRuntime:       p.VRuntime,
		SumExecRuntime: p.SumExecRuntime,
		ExitCode:       p.ExitCode,
		Children:       slices.Clone(p.Children),
		PendingSignals: p.Signals.Pending,
		BlockedSignals: p.Signals.Blocked,
	}
	for _, d := range p.FDs {
		if d != nil {
			info.OpenFDs++
		}
	}
	if st, err := k.mm.SpaceStats(p.PID); err == nil {
		info.Memory = &st
	}
	return info
}

// Process returns a snapshot of pid, zombies included.
func (k *Kernel) Process(pid proc.PID) (ProcessInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, ok := k.table.Lookup(pid)
	if !ok {
		return ProcessInfo{}, kerr.ErrNoProcess
	}
	return k.info(p), nil
}

// Processes returns a snapshot of every process in PID order.
func (k *Kernel) Processes() []ProcessInfo {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]ProcessInfo, 0, k.table.Len())
	k.table.Each(func(p *proc.Process) bool {
		out = append(out, k.info(p))
		return true
	})
	slices.SortFunc(out, func(a, b ProcessInfo) int {
		return int(a.PID) - int(b.PID)
	})
	return out
}
