package rtos

// Clock is the system tick counter.
type Clock struct {
	ticks uint64
	hz    uint64
}

// NewClock creates a clock ticking hz times per second.
func NewClock(hz uint32) *Clock {
	if hz == 0 {
		hz = DefaultTickRateHz
	}
	return &Clock{hz: uint64(hz)}
}

// Ticks returns ticks since boot.
func (c *Clock) Ticks() uint64 { return c.ticks }

// Hz returns the tick rate.
func (c *Clock) Hz() uint64 { return c.hz }

// Advance moves the clock forward one tick and returns the new count.
func (c *Clock) Advance() uint64 {
	c.ticks++
	return c.ticks
}

// NowNs returns the time since boot in nanoseconds at tick resolution.
func (c *Clock) NowNs() uint64 {
	return c.ticks * (1_000_000_000 / c.hz)
}

// MsToTicks converts milliseconds to ticks.
func (c *Clock) MsToTicks(ms uint32) uint64 {
	return uint64(ms) * c.hz / 1000
}

// TicksToMs converts ticks to milliseconds.
func (c *Clock) TicksToMs(ticks uint64) uint64 {
	return ticks * 1000 / c.hz
}

// TickMicros is the length of one tick in microseconds.
func (c *Clock) TickMicros() uint64 {
	return 1_000_000 / c.hz
}
