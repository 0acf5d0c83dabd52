// Package testutil provides mocks and helpers shared by kernel tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
)

// MockSignalSender is a mock signal sink for subsystems that raise signals.
type MockSignalSender struct {
	mock.Mock
}

// Send mocks the Send method.
func (m *MockSignalSender) Send(pid proc.PID, sig signal.Signal) error {
	args := m.Called(pid, sig)
	return args.Error(0)
}

// NewMockSignalSender creates a sender that accepts any signal.
func NewMockSignalSender(t *testing.T) *MockSignalSender {
	t.Helper()
	m := new(MockSignalSender)

	// Default behavior: every signal is accepted
	m.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()

	return m
}

// MockFile is a mock backing file.
type MockFile struct {
	mock.Mock
}

// Name mocks the Name method.
func (m *MockFile) Name() string {
	args := m.Called()
	return args.String(0)
}

// Size mocks the Size method.
func (m *MockFile) Size() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

// ReadAt mocks the ReadAt method.
func (m *MockFile) ReadAt(p []byte, off int64) (int, error) {
	args := m.Called(p, off)
	return args.Int(0), args.Error(1)
}

// WriteAt mocks the WriteAt method.
func (m *MockFile) WriteAt(p []byte, off int64) (int, error) {
	args := m.Called(p, off)
	return args.Int(0), args.Error(1)
}

// Close mocks the Close method.
func (m *MockFile) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NewMockFile creates a file mock with a name and size.
func NewMockFile(t *testing.T, name string, size int64) *MockFile {
	t.Helper()
	m := new(MockFile)
	m.On("Name").Return(name).Maybe()
	m.On("Size").Return(size).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

// Pattern returns n bytes of a repeating pattern starting at seed.
func Pattern(seed byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

// AssertCode fails the test unless err carries the syscall return code want.
func AssertCode(t *testing.T, want int, err error) {
	t.Helper()
	if got := kerr.Code(err); got != want {
		t.Fatalf("expected return code %d, got %d (%v)", want, got, err)
	}
}
