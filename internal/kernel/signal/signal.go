// Package signal implements per-process signal state: sending, masking,
// handler registration and delivery of pending signals with default actions.
//
// Delivery is not instantaneous. Send only marks the signal pending (and
// wakes a blocked target so it reaches a delivery point); the kernel calls
// Deliver when a process returns from a system call or is dispatched.
package signal

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
)

// Signal is a signal number in 1..31.
type Signal int

// Signal numbers.
const (
	SIGHUP  Signal = 1
	SIGINT  Signal = 2
	SIGQUIT Signal = 3
	SIGILL  Signal = 4
	SIGTRAP Signal = 5
	SIGABRT Signal = 6
	SIGBUS  Signal = 7
	SIGFPE  Signal = 8
	SIGKILL Signal = 9
	SIGUSR1 Signal = 10
	SIGSEGV Signal = 11
	SIGUSR2 Signal = 12
	SIGPIPE Signal = 13
	SIGALRM Signal = 14
	SIGTERM Signal = 15
	SIGCHLD Signal = 17
	SIGCONT Signal = 18
	SIGSTOP Signal = 19
)

var names = map[Signal]string{
	SIGHUP: "SIGHUP", SIGINT: "SIGINT", SIGQUIT: "SIGQUIT", SIGILL: "SIGILL",
	SIGTRAP: "SIGTRAP", SIGABRT: "SIGABRT", SIGBUS: "SIGBUS", SIGFPE: "SIGFPE",
	SIGKILL: "SIGKILL", SIGUSR1: "SIGUSR1", SIGSEGV: "SIGSEGV", SIGUSR2: "SIGUSR2",
	SIGPIPE: "SIGPIPE", SIGALRM: "SIGALRM", SIGTERM: "SIGTERM", SIGCHLD: "SIGCHLD",
	SIGCONT: "SIGCONT", SIGSTOP: "SIGSTOP",
}

func (s Signal) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("SIG%d", int(s))
}

// Parse maps a name such as "SIGTERM" or "TERM" to its signal.
func Parse(name string) (Signal, bool) {
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	for s, n := range names {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// Valid reports whether s is a deliverable signal number.
func (s Signal) Valid() bool {
	return s >= 1 && s < proc.NumSignals
}

// Catchable reports whether s may be handled, ignored or blocked.
func (s Signal) Catchable() bool {
	return s != SIGKILL && s != SIGSTOP
}

func (s Signal) bit() uint32 {
	return 1 << uint(s)
}

// uncatchable is the mask of signals that can never be blocked.
const uncatchable = uint32(1<<SIGKILL | 1<<SIGSTOP)

// Host is the part of the kernel that default actions act on.
type Host interface {
	Lookup(pid proc.PID) (*proc.Process, bool)
	Wake(p *proc.Process) bool
	Stop(p *proc.Process)
	Continue(p *proc.Process)
	Terminate(p *proc.Process, code int)
}

// Delivery is a custom handler invocation produced by Deliver. The kernel
// runs it outside its lock.
type Delivery struct {
	PID    proc.PID
	Signal Signal
	Fn     func(sig int)
}

// Run invokes the handler.
func (d Delivery) Run() {
	d.Fn(int(d.Signal))
}

// Manager sends and delivers signals.
type Manager struct {
	host   Host
	onSend func(pid proc.PID, sig Signal)
	logger *zap.Logger
}

// New creates a signal manager acting on host.
func New(host Host, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{host: host, logger: logger.Named("signal")}
}

// OnSend registers a hook called for every accepted signal.
func (m *Manager) OnSend(fn func(pid proc.PID, sig Signal)) {
	m.onSend = fn
}

// Send marks sig pending on pid. A blocked target is woken so it reaches a
// delivery point; SIGCONT resumes a stopped target immediately.
func (m *Manager) Send(pid proc.PID, sig Signal) error {
	if !sig.Valid() {
		return kerr.ErrInvalidParam
	}
	p, err := m.live(pid)
	if err != nil {
		return err
	}

	p.Signals.Pending |= sig.bit()
	switch sig {
	case SIGCONT:
		p.Signals.Pending &^= SIGSTOP.bit()
		if p.Stopped {
			m.host.Continue(p)
		}
	case SIGKILL:
		if p.Stopped {
			p.Stopped = false
		}
	}
	if p.State == proc.StateBlocked {
		m.host.Wake(p)
	}

	m.logger.Debug("signal sent",
		zap.Uint32("pid", uint32(pid)),
		zap.Stringer("signal", sig))
	if m.onSend != nil {
		m.onSend(pid, sig)
	}
	return nil
}

// SetHandler installs the disposition of sig for pid. SIGKILL and SIGSTOP
// keep their default action.
func (m *Manager) SetHandler(pid proc.PID, sig Signal, h proc.SignalHandler) error {
	if !sig.Valid() || !sig.Catchable() {
		return kerr.ErrInvalidParam
	}
	if h.Action == proc.ActionCustom && h.Fn == nil {
		return kerr.ErrInvalidParam
	}
	p, err := m.live(pid)
	if err != nil {
		return err
	}
	p.Signals.Handlers[sig] = h
	return nil
}

// Block adds mask to the blocked set of pid. SIGKILL and SIGSTOP are never
// blocked.
func (m *Manager) Block(pid proc.PID, mask uint32) error {
	p, err := m.live(pid)
	if err != nil {
		return err
	}
	p.Signals.Blocked |= mask &^ uncatchable
	return nil
}

// Unblock removes mask from the blocked set of pid.
func (m *Manager) Unblock(pid proc.PID, mask uint32) error {
	p, err := m.live(pid)
	if err != nil {
		return err
	}
	p.Signals.Blocked &^= mask
	return nil
}

// Pending returns the pending mask of pid.
func (m *Manager) Pending(pid proc.PID) (uint32, error) {
	p, err := m.live(pid)
	if err != nil {
		return 0, err
	}
	return p.Signals.Pending, nil
}

// Deliver handles every pending, unblocked signal of p in ascending order.
// Default and ignore dispositions are applied here; custom handlers are
// returned for the caller to run. Delivery stops once p has terminated.
func (m *Manager) Deliver(p *proc.Process) []Delivery {
	var out []Delivery
	for sig := Signal(1); sig < proc.NumSignals; sig++ {
		if !p.State.Alive() {
			break
		}
		deliverable := p.Signals.Pending &^ p.Signals.Blocked
		if deliverable&sig.bit() == 0 {
			continue
		}
		p.Signals.Pending &^= sig.bit()

		h := p.Signals.Handlers[sig]
		if !sig.Catchable() {
			h = proc.SignalHandler{}
		}
		switch h.Action {
		case proc.ActionIgnore:
		case proc.ActionCustom:
			out = append(out, Delivery{PID: p.PID, Signal: sig, Fn: h.Fn})
		default:
			m.defaultAction(p, sig)
		}
	}
	return out
}

func (m *Manager) defaultAction(p *proc.Process, sig Signal) {
	switch sig {
	case SIGKILL, SIGTERM:
		m.logger.Info("process terminated by signal",
			zap.Uint32("pid", uint32(p.PID)),
			zap.Stringer("signal", sig))
		m.host.Terminate(p, 128+int(sig))
	case SIGSTOP:
		m.host.Stop(p)
	}
}

func (m *Manager) live(pid proc.PID) (*proc.Process, error) {
	p, ok := m.host.Lookup(pid)
	if !ok || !p.State.Alive() {
		return nil, kerr.ErrNoProcess
	}
	return p, nil
}
