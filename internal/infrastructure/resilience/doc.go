/*
Package resilience provides a circuit breaker for kernel devices.

# Overview

The swap device sits behind a breaker so that a failing backing store does
not stall every page-out. After repeated write or read failures the breaker
opens and swap operations fail fast; once the cool-down has elapsed a limited
number of probes are let through and enough consecutive successes close it.

The breaker is timed in kernel ticks, not wall-clock time, so it behaves the
same under a simulated clock as under the real timer.

# Usage

	breaker := resilience.New("swap", resilience.Settings{
		MaxProbes: 1,
		Cooldown:  500,
		TripWhen: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	}, clock.Ticks)

	err := breaker.Do(func() error {
		_, err := file.WriteAt(page, off)
		return err
	})

# States

	Closed --[failures]-> Open --[cool-down]-> Half-Open --[successes]-> Closed
	                                               |
	                                           [failure]
	                                               v
	                                             Open
*/
package resilience
