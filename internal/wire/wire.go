// Package wire defines the small set of fixed-layout structs that sit
// alongside the tagged pod.Builder/pod.Cursor stream: the per-frame
// transport header, the per-cycle IO area shared with a node's mapped
// buffers, and the driver clock snapshot. All three are placed directly in
// shared memory or read straight off the socket, so their layout is pinned
// with a compile-time size check the same way the teacher pins its kernel
// ABI structs in internal/uapi/structs.go.
package wire

import "unsafe"

// FrameHeader precedes every message on a transport connection. ObjectID
// and Opcode select the receiving object and its method; SizeQwords gives
// the length of the following pod-encoded body in 8-byte words, so a
// reader can skip an unrecognized message without understanding its
// payload.
type FrameHeader struct {
	ObjectID   uint32
	Opcode     uint16
	SizeQwords uint16
}

// Compile-time size check - must be exactly 8 bytes.
var _ [8]byte = [unsafe.Sizeof(FrameHeader{})]byte{}

// IOAreaLayout is the fixed-size region at the head of a node's mapped IO
// area, written by the driver before waking the node and read back after
// it signals completion. It never carries pod-encoded data; every field is
// polled on the hot cycle path, so it stays a flat struct.
type IOAreaLayout struct {
	InputBufferID  uint32
	OutputBufferID uint32
	ClockPosition  uint64
	ClockDuration  uint64
	Latency        uint64
	Flags          uint32
	_              uint32 // padding to keep the struct 8-byte aligned
}

// Compile-time size check - must be exactly 40 bytes.
var _ [40]byte = [unsafe.Sizeof(IOAreaLayout{})]byte{}

// IO area flags.
const (
	// IOAreaFlagXRun is set by the driver when this cycle's IO area was
	// delivered late or reused after a missed deadline.
	IOAreaFlagXRun uint32 = 1 << 0
)

// ClockInfo is the driver's published clock snapshot for a graph, updated
// once per cycle and read without locking by any node wanting wall-clock
// alignment.
type ClockInfo struct {
	Rate                 uint32
	_                     uint32 // padding
	Position              uint64
	Duration              uint64
	NextPosition          uint64
	Delay                 uint64
	XrunCount             uint32
	_                     uint32 // padding
	CycleStartMonotonicNs int64
}

// Compile-time size check - must be exactly 56 bytes.
var _ [56]byte = [unsafe.Sizeof(ClockInfo{})]byte{}
