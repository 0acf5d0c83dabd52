// Package ws streams live kernel timing statistics over WebSocket.
//
// Each connection gets a "timing" frame every interval (one second unless
// the client subscribes with another period). Frames are JSON encoded with
// sonic.
//
// Message Types (Client → Server):
//   - ping: keep-alive
//   - subscribe: change the push period ("interval_ms", at least 50)
//   - snapshot: push a timing frame now
//
// Message Types (Server → Client):
//   - system: greeting with the kernel boot ID
//   - timing: ticks, timing, scheduler and fairness statistics
//   - pong, subscribed, error
//
// Example Usage:
//
//	handler := ws.NewHandler(k, metrics, logger)
//	router.GET("/stream", handler.HandleConnection)
package ws
