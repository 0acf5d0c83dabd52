package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/rtos"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/sched"
)

// schedHost acts on a real scheduler the way the kernel does.
type schedHost struct {
	s          *sched.Scheduler
	terminated map[proc.PID]int
}

func (h *schedHost) Lookup(pid proc.PID) (*proc.Process, bool) { return h.s.Table().Lookup(pid) }
func (h *schedHost) Wake(p *proc.Process) bool                 { return h.s.Wake(p) }

func (h *schedHost) Stop(p *proc.Process) {
	p.Stopped = true
	h.s.Block(p)
}

func (h *schedHost) Continue(p *proc.Process) {
	p.Stopped = false
	h.s.Wake(p)
}

func (h *schedHost) Terminate(p *proc.Process, code int) {
	h.terminated[p.PID] = code
	h.s.Exit(p, code)
}

func setup(t *testing.T) (*Manager, *schedHost, *proc.Process) {
	t.Helper()
	clock := rtos.New(rtos.DefaultConfig(), zap.NewNop())
	s := sched.New(sched.DefaultConfig(), proc.NewTable(16), clock, zap.NewNop())
	p, err := s.Create("target", 0, proc.PriorityNormal, 0)
	require.NoError(t, err)
	host := &schedHost{s: s, terminated: map[proc.PID]int{}}
	return New(host, zap.NewNop()), host, p
}

func TestSignalNames(t *testing.T) {
	assert.Equal(t, "SIGKILL", SIGKILL.String())
	assert.Equal(t, "SIG16", Signal(16).String())
	assert.False(t, Signal(0).Valid())
	assert.False(t, Signal(32).Valid())
	assert.False(t, SIGSTOP.Catchable())
	assert.True(t, SIGTERM.Catchable())
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Signal
		ok   bool
	}{
		{in: "SIGTERM", want: SIGTERM, ok: true},
		{in: "kill", want: SIGKILL, ok: true},
		{in: "Usr1", want: SIGUSR1, ok: true},
		{in: "SIG16", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSendSetsPendingAndWakesBlocked(t *testing.T) {
	m, host, p := setup(t)
	host.s.Block(p)
	require.Equal(t, proc.StateBlocked, p.State)

	var sent []Signal
	m.OnSend(func(_ proc.PID, sig Signal) { sent = append(sent, sig) })

	require.NoError(t, m.Send(p.PID, SIGUSR1))
	pending, err := m.Pending(p.PID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<SIGUSR1), pending)
	assert.Equal(t, proc.StateReady, p.State)
	assert.Equal(t, []Signal{SIGUSR1}, sent)
}

func TestSendErrors(t *testing.T) {
	m, _, p := setup(t)
	assert.ErrorIs(t, m.Send(p.PID, 0), kerr.ErrInvalidParam)
	assert.ErrorIs(t, m.Send(p.PID, 40), kerr.ErrInvalidParam)
	assert.ErrorIs(t, m.Send(999, SIGTERM), kerr.ErrNoProcess)
}

func TestDefaultActions(t *testing.T) {
	tests := []struct {
		name     string
		sig      Signal
		wantCode int
		wantLive bool
	}{
		{name: "SIGKILL terminates", sig: SIGKILL, wantCode: 137},
		{name: "SIGTERM terminates", sig: SIGTERM, wantCode: 143},
		{name: "SIGUSR1 is ignored", sig: SIGUSR1, wantLive: true},
		{name: "SIGSEGV is ignored", sig: SIGSEGV, wantLive: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, host, p := setup(t)
			require.NoError(t, m.Send(p.PID, tt.sig))
			assert.Empty(t, m.Deliver(p))

			if tt.wantLive {
				assert.True(t, p.State.Alive())
				return
			}
			assert.Equal(t, proc.StateZombie, p.State)
			assert.Equal(t, tt.wantCode, host.terminated[p.PID])
		})
	}
}

func TestStopAndContinue(t *testing.T) {
	m, _, p := setup(t)

	require.NoError(t, m.Send(p.PID, SIGSTOP))
	m.Deliver(p)
	assert.True(t, p.Stopped)
	assert.Equal(t, proc.StateBlocked, p.State)

	require.NoError(t, m.Send(p.PID, SIGUSR2))
	assert.Equal(t, proc.StateBlocked, p.State, "stopped processes are not woken")

	require.NoError(t, m.Send(p.PID, SIGCONT))
	assert.False(t, p.Stopped)
	assert.Equal(t, proc.StateReady, p.State)
}

func TestCustomHandlersAreReturned(t *testing.T) {
	m, _, p := setup(t)
	var got []int
	require.NoError(t, m.SetHandler(p.PID, SIGUSR1, proc.SignalHandler{
		Action: proc.ActionCustom,
		Fn:     func(sig int) { got = append(got, sig) },
	}))
	require.NoError(t, m.SetHandler(p.PID, SIGTERM, proc.SignalHandler{Action: proc.ActionIgnore}))

	require.NoError(t, m.Send(p.PID, SIGTERM))
	require.NoError(t, m.Send(p.PID, SIGUSR1))
	deliveries := m.Deliver(p)
	require.Len(t, deliveries, 1)
	deliveries[0].Run()

	assert.Equal(t, []int{int(SIGUSR1)}, got)
	assert.True(t, p.State.Alive())
	assert.Zero(t, p.Signals.Pending)
}

func TestUncatchableSignals(t *testing.T) {
	m, _, p := setup(t)
	handler := proc.SignalHandler{Action: proc.ActionIgnore}
	assert.ErrorIs(t, m.SetHandler(p.PID, SIGKILL, handler), kerr.ErrInvalidParam)
	assert.ErrorIs(t, m.SetHandler(p.PID, SIGSTOP, handler), kerr.ErrInvalidParam)
	assert.ErrorIs(t, m.SetHandler(p.PID, SIGUSR1, proc.SignalHandler{Action: proc.ActionCustom}), kerr.ErrInvalidParam)

	require.NoError(t, m.Block(p.PID, 0xFFFFFFFF))
	assert.Zero(t, p.Signals.Blocked&(1<<SIGKILL))
	assert.Zero(t, p.Signals.Blocked&(1<<SIGSTOP))

	require.NoError(t, m.Send(p.PID, SIGKILL))
	m.Deliver(p)
	assert.Equal(t, proc.StateZombie, p.State)
}

func TestBlockedSignalsStayPending(t *testing.T) {
	m, _, p := setup(t)
	require.NoError(t, m.Block(p.PID, 1<<SIGTERM))
	require.NoError(t, m.Send(p.PID, SIGTERM))

	m.Deliver(p)
	assert.True(t, p.State.Alive())
	assert.NotZero(t, p.Signals.Pending&(1<<SIGTERM))

	require.NoError(t, m.Unblock(p.PID, 1<<SIGTERM))
	m.Deliver(p)
	assert.Equal(t, proc.StateZombie, p.State)
}
