// Package types holds the request and message shapes shared by the HTTP and
// WebSocket surfaces of the introspection service.
package types
