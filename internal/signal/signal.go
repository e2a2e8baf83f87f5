// Package signal implements the graph's wake primitive: the mechanism a
// producer uses to tell a waiting consumer (or the scheduler) that a
// cycle's buffers are ready, and the mechanism a blocked waiter uses to
// wake on a deadline. The interface split between a default
// syscall-backed implementation and an optional accelerated one mirrors
// the teacher's internal/uring package, which defines the Ring interface
// in interface.go and provides NewRealRing (build tag giouring) alongside
// a stub returning an error when the tag is absent in iouring_stub.go.
package signal

import "time"

// Signaler is a single wake channel: one or more goroutines call Wait,
// any goroutine may call Signal, and a pending Signal wakes exactly one
// Wait call (edge-triggered, not a broadcast), matching the realtime
// scheduler's need to wake its driver thread without the overhead of a
// condition variable broadcast.
type Signaler interface {
	// Signal wakes a pending Wait, or arms a pending wake if nothing is
	// currently waiting.
	Signal() error
	// Wait blocks until Signal is called or deadline elapses, returning
	// ErrTimeout in the latter case.
	Wait(deadline time.Time) error
	// Fd returns the underlying file descriptor, so the caller can add it
	// to an external multiplexed wait set (e.g. Multi's poll loop).
	Fd() int
	Close() error
}

// Multi multiplexes waits across several Signalers at once, blocking on
// all of them in a single wait instead of one wait per Signaler. The
// scheduler does not use it; it waits on each node's done Signaler in turn.
type Multi interface {
	// Add registers a Signaler (by its fd) to be woken on.
	Add(s Signaler) error
	// Remove unregisters a previously added Signaler.
	Remove(s Signaler) error
	// WaitAny blocks until at least one registered Signaler fires or
	// deadline elapses, returning the fds that fired.
	WaitAny(deadline time.Time) ([]int, error)
	Close() error
}
