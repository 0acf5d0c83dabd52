// Package kerr defines the kernel's error vocabulary.
//
// Every kernel error carries the integer code the syscall layer hands back to
// user space, so callers can use errors.Is for control flow while the
// dispatcher keeps returning the classic negative codes.
package kerr

import "errors"

// Codes returned across the syscall boundary.
const (
	CodeOK              = 0
	CodeError           = -1
	CodeTimeout         = -2
	CodeInvalidParam    = -3
	CodeNoMemory        = -4
	CodeDeadlineMissed  = -5
	CodePriorityInvalid = -6
)

// Error is a kernel error with a syscall return code.
type Error struct {
	code int
	msg  string
}

// New creates a kernel error.
func New(code int, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Code returns the syscall return code.
func (e *Error) Code() int { return e.code }

var (
	ErrGeneric         = New(CodeError, "operation failed")
	ErrTimeout         = New(CodeTimeout, "timed out")
	ErrInvalidParam    = New(CodeInvalidParam, "invalid parameter")
	ErrNoMemory        = New(CodeNoMemory, "out of memory")
	ErrDeadlineMissed  = New(CodeDeadlineMissed, "deadline missed")
	ErrPriorityInvalid = New(CodePriorityInvalid, "invalid priority")

	// ErrWouldBlock is returned by state-machine primitives after they have
	// registered the caller on a wait list and blocked it.
	ErrWouldBlock = New(CodeError, "operation would block")
	// ErrProcessExited is returned to a blocked caller whose process died
	// while it was waiting.
	ErrProcessExited = New(CodeError, "process exited")
	// ErrNoProcess is returned when a PID does not name a live process.
	ErrNoProcess = New(CodeError, "no such process")
)

// Code maps err to its syscall return code. nil maps to CodeOK and errors
// from outside the kernel map to CodeError.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.code
	}
	return CodeError
}
