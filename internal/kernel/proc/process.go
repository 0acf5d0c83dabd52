package proc

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// MaxFDs is the per-process descriptor table capacity.
const MaxFDs = 32

// MaxChildren bounds the children list of one process.
const MaxChildren = 64

var (
	ErrFDTableFull = kerr.New(kerr.CodeError, "descriptor table full")
	ErrBadFD       = kerr.New(kerr.CodeInvalidParam, "bad file descriptor")
)

// FDKind says what a descriptor refers to.
type FDKind uint8

const (
	FDPipeRead FDKind = iota
	FDPipeWrite
	FDFile
)

func (k FDKind) String() string {
	switch k {
	case FDPipeRead:
		return "pipe-read"
	case FDPipeWrite:
		return "pipe-write"
	default:
		return "file"
	}
}

// FileDescriptor is one slot of the descriptor table.
type FileDescriptor struct {
	Kind FDKind
	Pipe arena.Handle
	File vfs.File
}

// NumSignals is the size of the signal masks and handler table.
const NumSignals = 32

// SignalAction selects how a signal is disposed of.
type SignalAction uint8

const (
	ActionDefault SignalAction = iota
	ActionIgnore
	ActionCustom
)

// SignalHandler is a signal disposition. Fn is used only with ActionCustom.
type SignalHandler struct {
	Action SignalAction
	Fn     func(sig int)
}

// SignalState is the per-process signal bookkeeping.
type SignalState struct {
	Pending  uint32
	Blocked  uint32
	Handlers [NumSignals]SignalHandler
}

// Process is a process control block.
type Process struct {
	PID    PID
	PPID   PID
	Name   string
	State  State
	Handle arena.Handle

	// Priority is the effective priority; BasePriority is what it returns to
	// when an inherited boost ends.
	Priority     Priority
	BasePriority Priority
	Realtime     bool
	Boosted      bool

	Nice           int
	Weight         uint64
	VRuntime       uint64
	ExecStart      uint64
	SumExecRuntime uint64

	TimeSlice        uint64
	DefaultTimeSlice uint64

	Context CPUContext

	VMBase uint64
	VMSize uint64

	FDs      [MaxFDs]*FileDescriptor
	Children []PID

	Signals  SignalState
	ExitCode int

	CreatedAt     uint64
	LastScheduled uint64
	ReadyAt       uint64
	Stopped       bool

	wake chan struct{}
}

// Park arms a fresh wake future and returns it. The scheduler calls Park when
// the process blocks.
func (p *Process) Park() <-chan struct{} {
	p.wake = make(chan struct{})
	return p.wake
}

// Unpark resolves the wake future, releasing whoever waits on it.
func (p *Process) Unpark() {
	if p.wake != nil {
		close(p.wake)
		p.wake = nil
	}
}

// WakeChan returns the pending wake future, or an already resolved one when
// the process is not parked.
func (p *Process) WakeChan() <-chan struct{} {
	if p.wake != nil {
		return p.wake
	}
	done := make(chan struct{})
	close(done)
	return done
}

// IsRealtime reports whether the process is scheduled from the RT queue.
func (p *Process) IsRealtime() bool {
	return p.Realtime
}

// InstallFD stores d in the lowest free descriptor slot.
func (p *Process) InstallFD(d *FileDescriptor) (int, error) {
	for i, slot := range p.FDs {
		if slot == nil {
			p.FDs[i] = d
			return i, nil
		}
	}
	return -1, ErrFDTableFull
}

// FD returns descriptor n.
func (p *Process) FD(n int) (*FileDescriptor, error) {
	if n < 0 || n >= MaxFDs || p.FDs[n] == nil {
		return nil, ErrBadFD
	}
	return p.FDs[n], nil
}

// RemoveFD clears descriptor n and returns what it held.
func (p *Process) RemoveFD(n int) (*FileDescriptor, error) {
	d, err := p.FD(n)
	if err != nil {
		return nil, err
	}
	p.FDs[n] = nil
	return d, nil
}

// AddChild records child in the children list.
func (p *Process) AddChild(child PID) bool {
	if len(p.Children) >= MaxChildren {
		return false
	}
	p.Children = append(p.Children, child)
	return true
}

// RemoveChild drops child from the children list.
func (p *Process) RemoveChild(child PID) {
	for i, c := range p.Children {
		if c == child {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return
		}
	}
}
