// Package http serves the read-mostly introspection API of a running kernel.
//
// Process, memory, IPC and trace views are plain JSON snapshots taken under
// the kernel lock. The only mutating endpoint is POST
// /processes/:pid/signal, which queues a signal and answers 202; delivery
// happens at the next tick or syscall return of the target.
package http
