// Package logging builds the zap loggers used across the kernel and the
// introspection service.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Kernel subsystems log hot-path events (ticks, dispatches, wake-ups) at
// Debug and lifecycle events (boot, process exit, breaker changes) at Info.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	k, err := kernel.New(cfg, nil, logger.Logger)
package logging
