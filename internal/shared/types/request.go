package types

// SignalRequest names a signal by number or by name ("SIGTERM", "term").
// A non-empty Name wins.
type SignalRequest struct {
	Signal int    `json:"signal"`
	Name   string `json:"name"`
}

// WSMessage represents a WebSocket message from a stream client.
type WSMessage struct {
	Type string `json:"type"`
	// IntervalMs is the push period requested by a "subscribe" message.
	IntervalMs int `json:"interval_ms,omitempty"`
}

// WSFrame is a message pushed to a stream client.
type WSFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
}
