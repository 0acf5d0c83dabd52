package proc

import "fmt"

// PID identifies a process. PIDs increase monotonically and are never reused
// within one boot. PID 0 is the idle process.
type PID uint32

// IdlePID is the PID of the idle process.
const IdlePID PID = 0

// State is the scheduling state of a process.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateZombie
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Alive reports whether a process in state s can still run.
func (s State) Alive() bool {
	return s == StateReady || s == StateRunning || s == StateBlocked
}

// Priority is a static priority. Lower is more urgent. 0..RTPriorityMax is
// the real-time band.
type Priority uint8

// Priority classes.
const (
	PriorityRealtime Priority = 0
	PriorityHigh     Priority = 50
	PriorityNormal   Priority = 100
	PriorityLow      Priority = 200
	PriorityIdle     Priority = 255
)

// RTPriorityMax is the least urgent real-time priority.
const RTPriorityMax Priority = 99

// NiceForPriority returns the default nice value for a priority class.
func NiceForPriority(p Priority) int {
	switch {
	case p == PriorityIdle:
		return NiceMax
	case p <= PriorityHigh:
		return -5
	case p >= PriorityLow:
		return 5
	default:
		return 0
	}
}

// CPUContext is the register file saved across a context switch.
type CPUContext struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFLAGS        uint64
	CR3                uint64
}

// Default user address-space layout.
const (
	UserVirtualBase = 0x400000
	UserVirtualSize = 0x100000
	StackSize       = 8192
	initialRFLAGS   = 0x202
)

// NewContext returns the initial register file for a process entering at
// entry with its stack at the top of the default user region.
func NewContext(entry uint64) CPUContext {
	stackBase := uint64(UserVirtualBase + UserVirtualSize - StackSize)
	return CPUContext{
		RIP:    entry,
		RSP:    stackBase + StackSize - 8,
		RFLAGS: initialRFLAGS,
	}
}
