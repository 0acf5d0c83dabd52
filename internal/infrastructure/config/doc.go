// Package config provides 12-factor configuration for kronosd.
//
// Settings are layered: built-in defaults, then an optional YAML or TOML
// file named by KRONOS_CONFIG, then environment variables.
//
// Configuration Sections:
//   - Server: introspection server address
//   - Scheduler: process table size, time slices, fair-share period
//   - RTOS: tick rate, periodic task table, preemption
//   - Memory: physical frames, swap device, reclaim
//   - IPC: pipe, queue and semaphore table sizes
//   - Logging: level and output format
//   - RateLimit: per-client API rate limiting
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	k, err := kernel.New(cfg.Kernel(), nil, logger)
package config
