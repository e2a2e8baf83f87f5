// Package interfaces provides internal interface definitions for
// mediagraph. These are separate from the public interfaces to avoid
// circular imports between the root package and internal packages, the
// same split the teacher keeps between its public API and
// internal/interfaces.
package interfaces

import "context"

// ProcessIO is the per-cycle view a Node gets of its mapped buffers: the
// data available to read, the region to write into, and the clock
// position the scheduler is driving this cycle at.
type ProcessIO struct {
	Input         []byte
	Output        []byte
	ClockPosition uint64
	ClockDuration uint64
}

// Node is the interface every processing unit placed in the graph must
// implement, the media-graph analogue of the teacher's Backend: instead
// of ReadAt/WriteAt against a block range, a Node processes one scheduler
// cycle's worth of buffers at a time.
type Node interface {
	// Process runs one cycle, consuming io.Input and producing io.Output.
	// It must not block past the cycle deadline; a Node with variable
	// latency should report it via Observer.ObserveLatency rather than
	// stalling the caller.
	Process(ctx context.Context, io *ProcessIO) error
	Close() error
}

// Lifecycle is an optional interface a Node can implement to react to
// session-level transport commands (Pause/Start/Suspend), mirroring the
// teacher's DiscardBackend pattern of layering an optional capability on
// top of the base interface rather than forcing every implementation to
// carry unused methods.
type Lifecycle interface {
	Node
	Pause() error
	Start() error
	Suspend() error
}

// Logger is the logging interface internal packages depend on, so they
// never import internal/logging's concrete type directly.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer collects realtime metrics from the scheduler's hot path.
// Implementations must be safe to call from the driver thread on every
// cycle.
type Observer interface {
	ObserveCycle(durationNs uint64, success bool)
	ObserveXRun()
	ObserveLatency(nodeID uint32, latencyNs uint64)
	ObserveQueueDepth(depth uint32)
}
