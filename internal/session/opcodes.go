package session

// Core object (id 0) opcodes, client-to-server. Numbers are the ABI:
// never renumber an existing opcode, only append.
const (
	OpHello        uint16 = 0
	OpSync         uint16 = 1
	OpGetRegistry  uint16 = 2
	OpCreateObject uint16 = 3
	OpDestroy      uint16 = 4
	OpPong         uint16 = 5
)

// Core object (id 0) events, server-to-client.
const (
	EvDone  uint16 = 0
	EvError uint16 = 1
	EvPing  uint16 = 2
)

// Registry resource opcodes, client-to-server.
const (
	OpBind uint16 = 0
)

// Registry resource events, server-to-client.
const (
	EvGlobal        uint16 = 0
	EvGlobalRemoved uint16 = 1
)

// Node object opcodes, client-to-server: sent against the local id a
// CreateObject/Bind bound to a node global, driving the C5 port/parameter
// handshake (spec.md §4.5) and the node's Start/Pause/Suspend lifecycle
// over the wire rather than only through an in-process Go call.
const (
	// OpSetParam proposes a single concrete Format for one of the node's
	// ports, narrowing it against the port's declared supported list the
	// same way internal/graph.AddLink does for a link's two endpoints.
	OpSetParam uint16 = 0
	// OpUseBuffers confirms a negotiated port is ready to receive buffers,
	// moving it from Ready to Paused.
	OpUseBuffers uint16 = 1
	// OpNodeCommand applies a Start/Pause/Suspend command to the node and,
	// in lockstep, to its ports.
	OpNodeCommand uint16 = 2
)

// CoreObjectID is the well-known id of every connection's core resource,
// assigned at Hello and never reused.
const CoreObjectID uint32 = 0
