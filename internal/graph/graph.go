// Package graph implements the node/port/link graph (C7): tracking which
// nodes are connected by which links, computing a topological processing
// order for the scheduler with Kahn's algorithm, rejecting links that
// would introduce a cycle, and choosing which side of a new link owns
// buffer allocation. The per-unit dependency bookkeeping is grounded on
// the way the teacher's queue runner tracks per-tag readiness before
// acting on a tag in internal/queue/runner.go's processRequests, widened
// from a flat array of queue tags to a general dependency graph between
// nodes.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/behrlich/mediagraphd/internal/port"
)

// ErrWouldCycle is returned by AddLink when connecting two ports would
// create a cycle in the node dependency graph.
var ErrWouldCycle = errors.New("graph: link would create a cycle")

// ErrUnknownNode is returned when a link references a node not present
// in the graph.
var ErrUnknownNode = errors.New("graph: unknown node")

// ErrDuplicateLink is returned when the same output port is already
// linked to the same input port.
var ErrDuplicateLink = errors.New("graph: link already exists")

// ErrNoPort is returned by AddLink when one of the two named endpoints
// has no port in the direction a link requires (an output port on the
// source, an input port on the destination).
var ErrNoPort = errors.New("graph: node has no such port")

// ErrNoFormat is the identity of port.ErrNoCommonFormat re-exported under
// this package's name, so a caller that only imports internal/graph can
// still errors.Is against the failure AddLink reports when two linked
// ports share no compatible format (spec.md §4.7/§8.2).
var ErrNoFormat = port.ErrNoCommonFormat

// AllocatorSide says which side of a link is responsible for providing
// the shared buffer pool the link's data flows through.
type AllocatorSide int

const (
	AllocatorOutput AllocatorSide = iota
	AllocatorInput
)

// NodeInfo is what the graph tracks about one node, independent of the
// node's own internal/interfaces.Node implementation.
type NodeInfo struct {
	ID          uint32
	CanAllocate bool // whether this node's ports can originate a buffer pool

	// OutputPort and InputPort drive the C5 negotiation handshake for this
	// node's single output/input port, as declared by its factory's
	// supported-format lists; either may be nil for a node with no port in
	// that direction (a pure source has no InputPort, a pure sink no
	// OutputPort).
	OutputPort *port.Port
	InputPort  *port.Port
}

// Link connects one node's output port to another node's input port.
type Link struct {
	ID           uint32
	FromNode     uint32
	FromPort     uint32
	ToNode       uint32
	ToPort       uint32
	Allocator    AllocatorSide
	NegotiatedAt port.Format
}

// Graph tracks the live node/port/link topology for one session, and
// produces the realtime scheduler's per-cycle processing order.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[uint32]*NodeInfo
	links     map[uint32]*Link
	nextLinkID uint32
	// adjacency is from-node -> set of to-nodes, updated under mu on
	// every node and link add/remove; Order() reads it under the read
	// lock.
	adjacency map[uint32]map[uint32]bool
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[uint32]*NodeInfo),
		links:      make(map[uint32]*Link),
		nextLinkID: 1,
		adjacency:  make(map[uint32]map[uint32]bool),
	}
}

// AddNode registers a node with the graph. outputFormats/inputFormats are
// the format lists its factory declared for its single output/input port;
// an empty list means the node has no port in that direction.
func (g *Graph) AddNode(id uint32, canAllocate bool, outputFormats, inputFormats []port.Format) {
	g.mu.Lock()
	defer g.mu.Unlock()

	info := &NodeInfo{ID: id, CanAllocate: canAllocate}
	if len(outputFormats) > 0 {
		info.OutputPort = port.New(0, port.DirectionOutput, outputFormats)
	}
	if len(inputFormats) > 0 {
		info.InputPort = port.New(0, port.DirectionInput, inputFormats)
	}
	g.nodes[id] = info
	if g.adjacency[id] == nil {
		g.adjacency[id] = make(map[uint32]bool)
	}
}

// RemoveNode removes a node and every link touching it.
func (g *Graph) RemoveNode(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.nodes, id)
	delete(g.adjacency, id)
	for from := range g.adjacency {
		delete(g.adjacency[from], id)
	}
	for linkID, l := range g.links {
		if l.FromNode == id || l.ToNode == id {
			delete(g.links, linkID)
		}
	}
}

// AddLink connects fromNode's output port to toNode's input port,
// rejecting the link if it would create a cycle in the node dependency
// graph or if the two ports share no common format. The allocator side is
// chosen by chooseAllocator; the negotiated format is recorded on the
// returned Link, and both ports are driven from Init through Configure to
// Ready as part of the same call, the §4.5 handshake create_link performs
// synchronously per spec.md §4.7.
func (g *Graph) AddLink(fromNode, fromPort, toNode, toPort uint32) (*Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromInfo, ok := g.nodes[fromNode]
	if !ok {
		return nil, ErrUnknownNode
	}
	toInfo, ok := g.nodes[toNode]
	if !ok {
		return nil, ErrUnknownNode
	}

	for _, l := range g.links {
		if l.FromNode == fromNode && l.FromPort == fromPort && l.ToNode == toNode && l.ToPort == toPort {
			return nil, ErrDuplicateLink
		}
	}

	if g.reachableLocked(toNode, fromNode) {
		return nil, ErrWouldCycle
	}

	if fromInfo.OutputPort == nil || toInfo.InputPort == nil {
		return nil, fmt.Errorf("graph: link %d->%d: %w", fromNode, toNode, ErrNoPort)
	}

	chosen, err := negotiateLocked(fromInfo.OutputPort, toInfo.InputPort)
	if err != nil {
		return nil, fmt.Errorf("graph: link %d->%d: %w", fromNode, toNode, err)
	}

	id := g.nextLinkID
	g.nextLinkID++

	link := &Link{
		ID:           id,
		FromNode:     fromNode,
		FromPort:     fromPort,
		ToNode:       toNode,
		ToPort:       toPort,
		Allocator:    chooseAllocator(fromInfo, toInfo),
		NegotiatedAt: chosen,
	}
	g.links[id] = link
	g.adjacency[fromNode][toNode] = true
	return link, nil
}

// negotiateLocked drives out and in from Init through Configure to Ready,
// committing the tie-broken common format to both. Either port is left in
// StateError, and the other's Configure is not retried, if no common
// format exists.
//
// A producer's output port that is already Ready (an earlier link already
// negotiated it) is not reconfigured: its existing format is offered as
// the sole candidate to the new consumer's input port instead, so one
// output can fan out to several consumer nodes as long as every one of
// them accepts the format already in effect. An already-Ready input port
// cannot be renegotiated at all, matching the scheduler's single-producer
// assumption (internal/scheduler.NodeEntry.ProducerID names exactly one
// upstream node).
func negotiateLocked(out, in *port.Port) (port.Format, error) {
	if out.State() == port.StateReady {
		existing := out.Format()
		if existing == nil {
			return port.Format{}, ErrNoFormat
		}
		if err := in.BeginConfigure(); err != nil {
			return port.Format{}, fmt.Errorf("input port: %w", err)
		}
		chosen, err := in.Negotiate([]port.Format{*existing}, formatsMatch, formatRank)
		if err != nil {
			return port.Format{}, ErrNoFormat
		}
		return chosen, nil
	}

	if err := out.BeginConfigure(); err != nil {
		return port.Format{}, fmt.Errorf("output port: %w", err)
	}
	if err := in.BeginConfigure(); err != nil {
		out.Fail()
		return port.Format{}, fmt.Errorf("input port: %w", err)
	}

	chosen, err := out.Negotiate(in.Supported(), formatsMatch, formatRank)
	if err != nil {
		in.Fail()
		return port.Format{}, ErrNoFormat
	}
	if _, err := in.Negotiate(out.Supported(), formatsMatch, formatRank); err != nil {
		out.Fail()
		return port.Format{}, ErrNoFormat
	}
	return chosen, nil
}

// formatsMatch is AddLink's format equality comparator: two formats are
// compatible only if they agree exactly on media type, rate and channel
// count.
func formatsMatch(a, b port.Format) bool {
	return a.MediaType == b.MediaType && a.Rate == b.Rate && a.Channels == b.Channels
}

// formatRank breaks a multi-match tie in favor of the higher sample rate.
func formatRank(f port.Format) int {
	return int(f.Rate)
}

// RemoveLink drops a link from the graph. The producing node's output
// port is only suspended back to Init once its last remaining consumer is
// gone (a fanned-out output stays Ready for its other consumers); the
// consuming node's input port is suspended as soon as this, its only
// producer, is removed.
func (g *Graph) RemoveLink(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.links[id]
	if !ok {
		return
	}
	delete(g.links, id)

	samePairRemains, fromHasOtherConsumer, toHasOtherProducer := false, false, false
	for _, other := range g.links {
		if other.FromNode == l.FromNode && other.ToNode == l.ToNode {
			samePairRemains = true
		}
		if other.FromNode == l.FromNode {
			fromHasOtherConsumer = true
		}
		if other.ToNode == l.ToNode {
			toHasOtherProducer = true
		}
	}
	if !samePairRemains {
		delete(g.adjacency[l.FromNode], l.ToNode)
	}

	if !fromHasOtherConsumer {
		if from, ok := g.nodes[l.FromNode]; ok && from.OutputPort != nil {
			_ = from.OutputPort.Suspend()
		}
	}
	if !toHasOtherProducer {
		if to, ok := g.nodes[l.ToNode]; ok && to.InputPort != nil {
			_ = to.InputPort.Suspend()
		}
	}
}

// ConsumerCount returns the number of links currently reading fromNode's
// output, the value a producer's buffer pool's per-buffer consumer
// countdown must be kept at (internal/pool.Pool.SetConsumerCount).
func (g *Graph) ConsumerCount(fromNode uint32) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, l := range g.links {
		if l.FromNode == fromNode {
			n++
		}
	}
	return n
}

// PortCommand is a node lifecycle command applied to both of a node's
// ports, the port-level side of the command POD object kind spec.md §4.5
// step 5 describes alongside the node's own Lifecycle transition.
type PortCommand int

const (
	PortCommandPause PortCommand = iota
	PortCommandStart
	PortCommandSuspend
)

// ApplyNodeCommand drives nodeID's ports through the transition cmd names.
// A port not currently in a state the transition allows (for instance a
// port that was never negotiated) is left untouched rather than treated
// as an error, since a node's Lifecycle can still legitimately start or
// pause with no link attached.
func (g *Graph) ApplyNodeCommand(nodeID uint32, cmd PortCommand) error {
	g.mu.Lock()
	info, ok := g.nodes[nodeID]
	g.mu.Unlock()
	if !ok {
		return ErrUnknownNode
	}

	for _, p := range [...]*port.Port{info.OutputPort, info.InputPort} {
		if p == nil {
			continue
		}
		switch cmd {
		case PortCommandPause:
			_ = p.Pause()
		case PortCommandStart:
			_ = p.Start()
		case PortCommandSuspend:
			_ = p.Suspend()
		}
	}
	return nil
}

// NegotiatePort drives nodeID's port in direction dir from Init through
// Configure to Ready against a single proposed format, the per-port
// analogue of AddLink's two-sided negotiation for a peer configuring a
// port directly (spec.md §4.5's set_param step) rather than through
// create_link.
func (g *Graph) NegotiatePort(nodeID uint32, dir port.Direction, want port.Format) (port.Format, error) {
	g.mu.Lock()
	info, ok := g.nodes[nodeID]
	g.mu.Unlock()
	if !ok {
		return port.Format{}, ErrUnknownNode
	}

	p := info.OutputPort
	if dir == port.DirectionInput {
		p = info.InputPort
	}
	if p == nil {
		return port.Format{}, ErrNoPort
	}

	if err := p.BeginConfigure(); err != nil {
		return port.Format{}, err
	}
	chosen, err := p.Negotiate([]port.Format{want}, formatsMatch, formatRank)
	if err != nil {
		return port.Format{}, ErrNoFormat
	}
	return chosen, nil
}

// UseBuffers moves both of nodeID's negotiated (Ready) ports to Paused,
// the point at which a peer has attached shared-memory buffers and the
// port is ready to run once started (spec.md §4.5's use_buffers step). A
// port not currently Ready is left untouched.
func (g *Graph) UseBuffers(nodeID uint32) error {
	g.mu.Lock()
	info, ok := g.nodes[nodeID]
	g.mu.Unlock()
	if !ok {
		return ErrUnknownNode
	}
	var err error
	for _, p := range [...]*port.Port{info.OutputPort, info.InputPort} {
		if p == nil || p.State() != port.StateReady {
			continue
		}
		if e := p.Pause(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// reachableLocked reports whether to is reachable from from by following
// adjacency edges. Caller must hold g.mu.
func (g *Graph) reachableLocked(from, to uint32) bool {
	if from == to {
		return true
	}
	visited := make(map[uint32]bool)
	stack := []uint32{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		if n == to {
			return true
		}
		for next := range g.adjacency[n] {
			stack = append(stack, next)
		}
	}
	return false
}

// chooseAllocator decides which side of a new link allocates the shared
// buffer pool, resolving spec.md §9's open question: the output side
// allocates unless only the input side is capable of allocating, matching
// the tie-break described in original_source/spa/include/spa/buffer/buffer.h.
func chooseAllocator(from, to *NodeInfo) AllocatorSide {
	if from.CanAllocate {
		return AllocatorOutput
	}
	if to.CanAllocate {
		return AllocatorInput
	}
	return AllocatorOutput
}

// Order returns the graph's nodes in a valid topological processing
// order using Kahn's algorithm, so the scheduler can run every node after
// all of its upstream dependencies in a single pass. It returns an error
// if the graph currently contains a cycle (which AddLink should already
// have prevented, but Order re-validates rather than trusting past state).
func (g *Graph) Order() ([]uint32, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[uint32]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for from, tos := range g.adjacency {
		for to := range tos {
			if _, ok := inDegree[to]; ok {
				_ = from
				inDegree[to]++
			}
		}
	}

	var queue []uint32
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var order []uint32
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for next := range g.adjacency[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, ErrWouldCycle
	}
	return order, nil
}

// Link returns the link with the given id, or nil.
func (g *Graph) Link(id uint32) *Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.links[id]
}

// Links returns every link currently in the graph.
func (g *Graph) Links() []*Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Link, 0, len(g.links))
	for _, l := range g.links {
		out = append(out, l)
	}
	return out
}
