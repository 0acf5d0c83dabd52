package kernel

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
)

// host lets signal default actions act on the kernel. Every method runs
// with k.mu held.
type host struct {
	k *Kernel
}

func (h host) Lookup(pid proc.PID) (*proc.Process, bool) {
	return h.k.table.Lookup(pid)
}

func (h host) Wake(p *proc.Process) bool {
	return h.k.sched.Wake(p)
}

// Stop takes p off the CPU until SIGCONT.
func (h host) Stop(p *proc.Process) {
	if p.Stopped {
		return
	}
	p.Stopped = true
	if p.State == proc.StateReady || p.State == proc.StateRunning {
		h.k.sched.Block(p)
	}
	h.k.logger.Info("process stopped", pidField(p.PID))
}

// Continue resumes a stopped process.
func (h host) Continue(p *proc.Process) {
	if !p.Stopped {
		return
	}
	p.Stopped = false
	h.k.sched.Wake(p)
	h.k.logger.Info("process continued", pidField(p.PID))
}

func (h host) Terminate(p *proc.Process, code int) {
	h.k.exit(p, code)
}
