// Package port implements the parameter/port negotiation state machine
// (C5): each port moves through Init, Configure, Ready, Paused and
// Streaming (with a terminal Error state reachable from any of them), the
// same per-unit, mutex-guarded state machine shape as the teacher's
// TagState machine in internal/queue/runner.go, generalized from a
// three-state fetch/owned/commit cycle to the richer port lifecycle
// spec.md §4.5 describes, and from a plain state check to state-pair
// validated transitions plus format intersection.
package port

import (
	"errors"
	"sync"
)

// State is a port's position in its negotiation lifecycle.
type State int

const (
	StateInit State = iota
	StateConfigure
	StateReady
	StatePaused
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConfigure:
		return "configure"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Direction is whether a port produces or consumes buffers.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// MediaTypeAudio is the only media type this repository's example nodes
// negotiate; kept as a named constant rather than a magic 1 since a video
// or MIDI node (neither implemented here) would add its own value.
const MediaTypeAudio uint32 = 1

// Format is one concrete, fully-specified media format a port can run.
// Fields beyond Rate/Channels are intentionally left to the caller's
// comparison function, since different node kinds format-match on
// different axes (audio rate/channels, video size/framerate).
type Format struct {
	MediaType uint32
	Rate      uint32
	Channels  uint32
	Extra     map[string]uint32
}

// ErrInvalidTransition is returned when a requested state change is not
// reachable from the port's current state.
var ErrInvalidTransition = errors.New("port: invalid state transition")

// ErrNoCommonFormat is returned when two format lists share no compatible
// entry.
var ErrNoCommonFormat = errors.New("port: no common format")

// allowed maps a state to the set of states directly reachable from it.
var allowed = map[State]map[State]bool{
	StateInit:      {StateConfigure: true, StateError: true},
	StateConfigure: {StateReady: true, StateInit: true, StateError: true},
	StateReady:     {StatePaused: true, StateInit: true, StateError: true},
	StatePaused:    {StateStreaming: true, StateReady: true, StateInit: true, StateError: true},
	StateStreaming: {StatePaused: true, StateInit: true, StateError: true},
	StateError:     {StateInit: true},
}

// Port is one negotiated endpoint of a node: an input or output, tracking
// its own state and currently-negotiated format independent of any other
// port on the same node.
type Port struct {
	mu        sync.Mutex
	id        uint32
	direction Direction
	state     State
	format    *Format
	supported []Format
}

// New returns a Port in StateInit with the given supported format list.
func New(id uint32, dir Direction, supported []Format) *Port {
	return &Port{id: id, direction: dir, state: StateInit, supported: supported}
}

// ID returns the port's registry id.
func (p *Port) ID() uint32 {
	return p.id
}

// Direction returns whether this port is an input or output.
func (p *Port) Direction() Direction {
	return p.direction
}

// State returns the port's current lifecycle state.
func (p *Port) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Format returns the currently negotiated format, or nil if the port has
// not yet completed Configure.
func (p *Port) Format() *Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

// Supported returns the port's declared format list, the set a peer (or
// the graph, negotiating a link) intersects against. The returned slice
// is the port's own backing array and must not be mutated by the caller.
func (p *Port) Supported() []Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supported
}

// transition moves the port to next if reachable from its current state,
// validating the move the way the teacher checks tagStates[tag] before
// acting on a tag rather than trusting the caller.
func (p *Port) transition(next State) error {
	if !allowed[p.state][next] {
		return ErrInvalidTransition
	}
	p.state = next
	return nil
}

// BeginConfigure moves the port from Init to Configure, the state in
// which EnumFormat/SetFormat negotiation runs.
func (p *Port) BeginConfigure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(StateConfigure)
}

// Negotiate intersects this port's supported formats against peer's and
// commits the tie-broken result, moving the port to Ready. It must be
// called while the port is in StateConfigure.
func (p *Port) Negotiate(peer []Format, matches func(a, b Format) bool, rank func(Format) int) (Format, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateConfigure {
		return Format{}, ErrInvalidTransition
	}

	chosen, err := Intersect(p.supported, peer, matches, rank)
	if err != nil {
		_ = p.transition(StateError)
		return Format{}, err
	}

	p.format = &chosen
	if err := p.transition(StateReady); err != nil {
		return Format{}, err
	}
	return chosen, nil
}

// Intersect returns the highest-ranked format present in both a and b
// according to matches, breaking ties with rank (higher wins). It is a
// free function so the graph's link negotiation can reuse it across two
// ports without going through either port's lock.
func Intersect(a, b []Format, matches func(x, y Format) bool, rank func(Format) int) (Format, error) {
	var best *Format
	bestRank := -1
	for _, x := range a {
		for _, y := range b {
			if !matches(x, y) {
				continue
			}
			r := rank(x)
			if r > bestRank {
				chosen := x
				best = &chosen
				bestRank = r
			}
		}
	}
	if best == nil {
		return Format{}, ErrNoCommonFormat
	}
	return *best, nil
}

// Pause moves a Ready or Streaming port to Paused.
func (p *Port) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(StatePaused)
}

// Start moves a Paused port to Streaming.
func (p *Port) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(StateStreaming)
}

// Suspend returns a port all the way to Init, dropping its negotiated
// format, so a subsequent Configure starts clean.
func (p *Port) Suspend() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transition(StateInit); err != nil {
		return err
	}
	p.format = nil
	return nil
}

// Fail moves the port to StateError from any state, recording that
// negotiation or streaming failed unrecoverably; only Suspend (back to
// Init) is reachable afterward.
func (p *Port) Fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateError
}
