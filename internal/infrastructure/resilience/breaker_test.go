package resilience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ ticks uint64 }

func (c *fakeClock) now() uint64 { return c.ticks }

var errDevice = errors.New("device failed")

func run(b *Breaker, outcomes ...bool) {
	for _, ok := range outcomes {
		_ = b.Do(func() error {
			if ok {
				return nil
			}
			return errDevice
		})
	}
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{Cooldown: 100},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after default three consecutive failures",
			settings:      Settings{Cooldown: 100},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the failure streak",
			settings:      Settings{Cooldown: 100},
			requests:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
		{
			name: "custom trip condition",
			settings: Settings{
				Cooldown: 100,
				TripWhen: func(c Counts) bool { return c.TotalFailures >= 1 },
			},
			requests:      []bool{true, false},
			expectedState: StateOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{}
			breaker := New("test", tt.settings, clock.now)
			run(breaker, tt.requests...)
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	clock := &fakeClock{}
	breaker := New("swap", Settings{Cooldown: 10}, clock.now)
	run(breaker, false, false, false)
	require.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenProbes(t *testing.T) {
	clock := &fakeClock{}
	breaker := New("swap", Settings{MaxProbes: 2, Cooldown: 10}, clock.now)
	run(breaker, false, false, false)

	clock.ticks = 10
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, breaker.Do(func() error { return nil }))
	require.NoError(t, breaker.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{}
	breaker := New("swap", Settings{Cooldown: 10}, clock.now)
	run(breaker, false, false, false)

	clock.ticks = 15
	run(breaker, false)
	assert.Equal(t, StateOpen, breaker.State())

	clock.ticks = 24
	assert.Equal(t, StateOpen, breaker.State())
	clock.ticks = 25
	assert.Equal(t, StateHalfOpen, breaker.State())
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := &fakeClock{}
	breaker := New("swap", Settings{Interval: 5, Cooldown: 10}, clock.now)
	run(breaker, false, false)
	assert.Equal(t, uint32(2), breaker.Counts().ConsecutiveFailures)

	clock.ticks = 5
	run(breaker, false)
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	clock := &fakeClock{}
	breaker := New("swap", Settings{
		Cooldown: 10,
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	}, clock.now)

	run(breaker, false, false, false)
	clock.ticks = 10
	run(breaker, true)

	assert.Equal(t, []string{
		"swap:closed->open",
		"swap:open->half-open",
		"swap:half-open->closed",
	}, transitions)
}

func TestBreakerRecoversFromPanic(t *testing.T) {
	clock := &fakeClock{}
	breaker := New("swap", Settings{}, clock.now)

	assert.Panics(t, func() {
		_ = breaker.Do(func() error { panic("boom") })
	})
	assert.Equal(t, uint32(1), breaker.Counts().TotalFailures)
}
