/*
Package tracing records what ran on the CPU and when.

# Overview

A Tracer is a scheduler observer. Every context switch closes the span of the
outgoing process and opens one for the incoming process, so the retained
spans form a gap-free timeline of dispatches. All spans of one kernel share a
trace ID, the kernel's boot ID, and each span carries its own ULID span ID,
so span lists sort chronologically.

Finished spans live in a fixed-size ring; the oldest are overwritten.

# Usage

	tracer := tracing.New(k.BootID(), 0, logger)
	k.Instrument(kernel.Hooks{Sched: tracer})

	router.Use(tracing.HTTPMiddleware(tracer))

	for _, s := range tracer.Spans() {
		fmt.Println(s.PID, s.Ticks)
	}

# Trace Format

API responses carry:
- X-Trace-ID: boot ID of the kernel that served the request
- X-Request-ID: identifier of the request
*/
package tracing
