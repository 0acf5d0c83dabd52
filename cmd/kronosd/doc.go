// Command kronosd boots a simulated kernel, drives its timer from a
// wall-clock ticker and serves the introspection API.
//
// Configuration:
//   - KRONOS_CONFIG names an optional YAML or TOML file
//   - environment variables override the file
//   - flags override both
//
// Usage:
//
//	# Production mode
//	./kronosd -port 8000
//
//	# Development mode (colored logs, debug level), no demo workload
//	./kronosd -dev -no-demo
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
