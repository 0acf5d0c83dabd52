package rtos

// Critical is the critical-section nesting counter. While it is non-zero the
// timer interrupt is masked: ticks are counted as deferred and delivered when
// the outermost section exits.
type Critical struct {
	depth       uint32
	deferred    uint64
	maxDeferred uint64
}

// Enter opens a (possibly nested) critical section.
func (c *Critical) Enter() {
	c.depth++
}

// Exit closes one level. At the outermost level it returns the number of
// ticks that arrived while masked; inner exits and unbalanced exits return 0.
func (c *Critical) Exit() uint64 {
	if c.depth == 0 {
		return 0
	}
	c.depth--
	if c.depth > 0 {
		return 0
	}
	n := c.deferred
	c.deferred = 0
	return n
}

// Masked reports whether interrupts are currently masked.
func (c *Critical) Masked() bool {
	return c.depth > 0
}

// Depth returns the nesting depth.
func (c *Critical) Depth() uint32 {
	return c.depth
}

// Defer records a tick that arrived while masked.
func (c *Critical) Defer() {
	c.deferred++
	if c.deferred > c.maxDeferred {
		c.maxDeferred = c.deferred
	}
}

// MaxDeferred returns the longest run of ticks ever held back.
func (c *Critical) MaxDeferred() uint64 {
	return c.maxDeferred
}
