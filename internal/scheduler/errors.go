package scheduler

import "errors"

// ErrUnknownNode is returned when a command or lookup references a node
// id the driver has no entry for.
var ErrUnknownNode = errors.New("scheduler: unknown node")

// ErrAlreadyRegistered is returned by AddNode when the given id is
// already bound to a node entry.
var ErrAlreadyRegistered = errors.New("scheduler: node already registered")

// ErrNotStarted is returned by operations that require the driver loop
// to be running.
var ErrNotStarted = errors.New("scheduler: driver not started")

// ErrCmdRingFull is returned by CmdRing.Push when the ring has no free
// slot for the command, meaning the driver thread is not draining it
// quickly enough relative to the command producer.
var ErrCmdRingFull = errors.New("scheduler: command ring full")
