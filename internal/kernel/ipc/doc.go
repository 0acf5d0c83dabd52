// Package ipc implements the blocking synchronisation objects of the kernel:
// pipes, System V style message queues, counting semaphores, recursive
// mutexes and event flags.
//
// Every operation is a step of a state machine run under the kernel lock.
// When an operation cannot complete it puts the caller on the object's wait
// list, blocks it through the scheduler and returns kerr.ErrWouldBlock. The
// caller waits for its wake future outside the lock and then repeats the
// operation. Semaphores and mutexes wake one waiter in priority order; pipes,
// queues and event flags wake every waiter and let them race.
package ipc
