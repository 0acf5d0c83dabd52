// Package server assembles the introspection service of a running kernel.
//
// Routes:
//   - GET  /, /health, /stats
//   - GET  /processes, /processes/:pid, /processes/:pid/mappings
//   - POST /processes/:pid/signal
//   - GET  /memory, /ipc, /trace
//   - GET  /metrics, /metrics/json
//   - GET  /stream (WebSocket)
//
// Middleware order: recovery, tracing, metrics, CORS, optional per-client
// rate limit. Responses other than the stream are gzip-compressed when the
// client accepts it.
//
// Example Usage:
//
//	srv := server.New(cfg, k, metrics, tracer, logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
