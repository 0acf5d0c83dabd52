package resilience

import (
	"errors"
	"sync"
)

var (
	ErrOpen           = errors.New("resilience: breaker is open")
	ErrTooManyProbes  = errors.New("resilience: too many probes in half-open state")
	errNilClockSource = errors.New("resilience: nil clock")
)

// State represents the breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Clock supplies the current time in kernel ticks.
type Clock func() uint64

// Settings configures the breaker. All periods are in ticks.
type Settings struct {
	// MaxProbes is the number of operations admitted while half-open; that
	// many consecutive successes close the breaker again.
	MaxProbes uint32
	// Interval is the closed-state period after which counts are cleared.
	Interval uint64
	// Cooldown is how long the breaker stays open before probing.
	Cooldown uint64
	// TripWhen decides, after a failure in the closed state, whether to open.
	TripWhen func(counts Counts) bool
	// OnStateChange is called whenever the state changes.
	OnStateChange func(name string, from State, to State)
}

// Counts holds the breaker statistics for the current generation
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker fails operations fast after repeated failures of a device.
type Breaker struct {
	name     string
	settings Settings
	now      Clock

	mu         sync.Mutex
	state      State
	counts     Counts
	expiry     uint64
	generation uint64
}

// New creates a breaker timed by now.
func New(name string, settings Settings, now Clock) *Breaker {
	if now == nil {
		panic(errNilClockSource)
	}
	if settings.MaxProbes == 0 {
		settings.MaxProbes = 1
	}
	if settings.Interval == 0 {
		settings.Interval = 60_000
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 1_000
	}
	if settings.TripWhen == nil {
		settings.TripWhen = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		}
	}

	return &Breaker{
		name:     name,
		settings: settings,
		now:      now,
		state:    StateClosed,
		expiry:   now() + settings.Interval,
	}
}

// Name returns the name of the breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.currentState(b.now())
	return state
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Do runs op if the breaker admits it and records the outcome.
func (b *Breaker) Do(op func() error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			b.afterRequest(generation, false)
			panic(e)
		}
	}()

	err = op()
	b.afterRequest(generation, err == nil)
	return err
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, generation := b.currentState(b.now())

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.settings.MaxProbes {
		return generation, ErrTooManyProbes
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now uint64) {
	b.counts.TotalSuccesses++
	b.counts.ConsecutiveSuccesses++
	b.counts.ConsecutiveFailures = 0
	if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxProbes {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now uint64) {
	switch state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.settings.TripWhen(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState advances time-driven transitions and returns the state and
// the generation it belongs to.
func (b *Breaker) currentState(now uint64) (State, uint64) {
	switch b.state {
	case StateClosed:
		if now >= b.expiry {
			b.counts = Counts{}
			b.expiry = now + b.settings.Interval
			b.generation++
		}
	case StateOpen:
		if now >= b.expiry {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now uint64) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.counts = Counts{}
	b.generation++

	switch state {
	case StateClosed:
		b.expiry = now + b.settings.Interval
	case StateOpen:
		b.expiry = now + b.settings.Cooldown
	case StateHalfOpen:
		b.expiry = 0
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}
