// Package mediagraph is the public API of the media graph daemon: it
// wires together the node/port/link graph, the realtime scheduler and the
// session/registry frontend and exposes a small handle for embedding the
// daemon's core in a process, the direct generalization of the teacher's
// CreateAndServe/Device pair from one block device to a graph of
// arbitrarily many nodes serving arbitrarily many connected peers.
package mediagraph

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/behrlich/mediagraphd/internal/config"
	"github.com/behrlich/mediagraphd/internal/graph"
	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/pool"
	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/behrlich/mediagraphd/internal/registry"
	"github.com/behrlich/mediagraphd/internal/scheduler"
	"github.com/behrlich/mediagraphd/internal/session"
)

// linkFactoryName is the built-in factory a connecting peer names in
// CreateObject to wire two already-created nodes together, the session
// frontend's way of reaching internal/graph's create_link. Node props
// carry the four endpoint ids as decimal strings, the same shape
// PipeWire's pw_link uses in original_source (a from/to node and port
// pair) rather than a dedicated opcode.
const linkFactoryName = "link"

// NodeFactory constructs a node from CreateObject's type/version/props,
// the generalization of the teacher's single compiled-in backend
// (mem.New) to an open set of node kinds a daemon embedder registers.
// canAllocate and hasProducer mirror graph.NodeInfo/scheduler.AddNode's
// own parameters: whether this node's ports can originate a buffer pool,
// and whether it reads another node's output. outputFormats/inputFormats
// are the node's declared C5 port formats, the candidate lists
// internal/graph intersects when a peer links this node to another; a nil
// list means the node has no port in that direction.
type NodeFactory func(version uint32, props map[string]string) (node interfaces.Node, canAllocate bool, bufSize int, outputFormats, inputFormats []port.Format, err error)

// nodeHandle pairs a node's graph-assigned id with its Node
// implementation. It is the value bound into a session's registry for a
// node global, so a wire-level OpNodeCommand/OpSetParam/OpUseBuffers can
// recover the id internal/graph and internal/scheduler index on, without
// the session package needing to know about either.
type nodeHandle struct {
	id   uint32
	node interfaces.Node
}

// Server is a running media graph daemon: its node/port/link graph, its
// realtime scheduler driving that graph, and the session frontend
// accepting client connections and dispatching the bootstrap/registry
// protocol against it.
type Server struct {
	cfg config.Config

	g      *graph.Graph
	driver *scheduler.Driver
	sess   *session.Server

	ctx    context.Context
	cancel context.CancelFunc

	started time.Time
	stopped bool

	metrics  *Metrics
	observer interfaces.Observer
	logger   interfaces.Logger

	// nodeMu guards nodePools and nextID, since CreateObject dispatch runs
	// one goroutine per connection and two peers may register nodes
	// concurrently.
	nodeMu    sync.Mutex
	nodePools map[uint32]*pool.Pool
	nextID    uint32
}

// Options contains additional options for server creation.
type Options struct {
	// Context for cancellation (if nil, uses context.Background()).
	Context context.Context

	// Logger for debug/info messages (if nil, no logging).
	Logger interfaces.Logger

	// Observer for metrics collection (if nil, uses the built-in Metrics).
	Observer interfaces.Observer

	// Permission gates what a connecting peer may read/write/execute on
	// the registry; nil uses session.AllowAll.
	Permission session.PermissionFunc
}

// NewServer creates a Server for cfg.SocketPath (resolved via
// config.ResolveSocketPath if empty) with its realtime scheduler built but
// not started; Serve starts the scheduler and accepts connections. This is the
// generalization of the teacher's CreateAndServe: instead of opening a
// kernel ublk control device and queue runners, it opens the transport
// listener and the graph driver.
//
// Example:
//
//	cfg := config.DefaultConfig()
//	srv, err := mediagraph.NewServer(cfg, nil)
//	srv.RegisterNodeFactory("sine-source", nodes.NewSineSourceFactory())
//	go srv.Serve(context.Background())
func NewServer(cfg config.Config, options *Options) (*Server, error) {
	if options == nil {
		options = &Options{}
	}
	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.SocketPath = config.ResolveSocketPath(cfg.SocketPath)

	metrics := NewMetrics()
	var observer interfaces.Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	g := graph.New()
	margin := config.SafetyMargin(cfg.CycleDuration, cfg.SafetyMarginPercent)
	driver, err := scheduler.NewDriver(scheduler.Config{
		Graph:         g,
		CycleDuration: cfg.CycleDuration,
		SafetyMargin:  margin,
		Observer:      observer,
		Logger:        options.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("mediagraph: new driver: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	// srv is filled in below but declared first so the session.Config
	// callbacks can close over it; none of them run until Serve accepts a
	// connection, by which point construction has completed.
	srv := &Server{
		cfg:       cfg,
		g:         g,
		driver:    driver,
		ctx:       runCtx,
		cancel:    cancel,
		started:   time.Now(),
		metrics:   metrics,
		observer:  observer,
		logger:    options.Logger,
		nodePools: make(map[uint32]*pool.Pool),
		nextID:    1,
	}

	sessSrv, err := session.NewServer(session.Config{
		SocketPath:  cfg.SocketPath,
		Logger:      options.Logger,
		Permission:  options.Permission,
		NodeCommand: srv.handleNodeCommand,
		SetParam:    srv.handleSetParam,
		UseBuffers:  srv.handleUseBuffers,
		Destroy:     srv.handleDestroy,
	})
	if err != nil {
		return nil, fmt.Errorf("mediagraph: new session server: %w", err)
	}
	srv.sess = sessSrv

	sessSrv.RegisterFactory(linkFactoryName, srv.createLink)
	return srv, nil
}

// createLink implements the built-in "link" factory: it parses the
// endpoint node/port ids out of CreateObject's props, adds the link to
// the node graph (which rejects cycles and duplicates and picks the
// allocator side), and rewires the consuming node's producer in the
// scheduler so its next cycle reads the producing node's output.
func (s *Server) createLink(objType string, version uint32, props map[string]string) (*session.Global, error) {
	fromNode, err := parseNodeIDProp(props, "from-node")
	if err != nil {
		return nil, err
	}
	fromPort, err := parseNodeIDProp(props, "from-port")
	if err != nil {
		return nil, err
	}
	toNode, err := parseNodeIDProp(props, "to-node")
	if err != nil {
		return nil, err
	}
	toPort, err := parseNodeIDProp(props, "to-port")
	if err != nil {
		return nil, err
	}

	link, err := s.g.AddLink(fromNode, fromPort, toNode, toPort)
	if err != nil {
		return nil, fmt.Errorf("mediagraph: create link: %w", err)
	}

	if err := s.driver.SetProducer(toNode, fromNode, true); err != nil {
		s.g.RemoveLink(link.ID)
		return nil, fmt.Errorf("mediagraph: wire link producer: %w", err)
	}

	s.nodeMu.Lock()
	producerPool, hasPool := s.nodePools[fromNode]
	s.nodeMu.Unlock()
	if hasPool {
		producerPool.SetConsumerCount(s.g.ConsumerCount(fromNode))
	}

	return &session.Global{
		Type:    objType,
		Version: version,
		Props:   props,
		Object:  link,
	}, nil
}

func parseNodeIDProp(props map[string]string, key string) (uint32, error) {
	raw, ok := props[key]
	if !ok {
		return 0, fmt.Errorf("mediagraph: create link: missing prop %q", key)
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("mediagraph: create link: prop %q: %w", key, err)
	}
	return uint32(v), nil
}

// RegisterNodeFactory makes a named node factory available to a
// connecting peer's CreateObject request. Constructed nodes are
// automatically added to the graph and the realtime scheduler.
func (s *Server) RegisterNodeFactory(name string, factory NodeFactory) {
	s.sess.RegisterFactory(name, func(objType string, version uint32, props map[string]string) (*session.Global, error) {
		node, canAllocate, bufSize, outputFormats, inputFormats, err := factory(version, props)
		if err != nil {
			return nil, fmt.Errorf("mediagraph: node factory %q: %w", name, err)
		}
		if bufSize <= 0 {
			bufSize = config.DefaultBufferSize
		}

		s.nodeMu.Lock()
		id := s.nextID
		s.nextID++
		s.nodeMu.Unlock()

		s.g.AddNode(id, canAllocate, outputFormats, inputFormats)

		var outputPool *pool.Pool
		if canAllocate {
			outputPool, err = pool.New(s.cfg.QueueDepth, bufSize)
			if err != nil {
				s.g.RemoveNode(id)
				return nil, fmt.Errorf("mediagraph: node %q buffer pool: %w", name, err)
			}
			s.nodeMu.Lock()
			s.nodePools[id] = outputPool
			s.nodeMu.Unlock()
		}

		if err := s.driver.AddNode(id, node, false, 0, outputPool); err != nil {
			s.g.RemoveNode(id)
			return nil, fmt.Errorf("mediagraph: node %q registration: %w", name, err)
		}

		return &session.Global{
			Type:    objType,
			Version: version,
			Props:   props,
			Object:  nodeHandle{id: id, node: node},
		}, nil
	})
}

// handleNodeCommand maps a wire-level Start/Pause/Suspend command
// (session.OpNodeCommand) to a scheduler.Command and feeds it into the
// driver's lock-free command ring, the live path that actually moves a
// node's Lifecycle and ports through Paused/Streaming rather than only on
// construction.
func (s *Server) handleNodeCommand(obj interface{}, op session.NodeCommandOp) error {
	nh, ok := obj.(nodeHandle)
	if !ok {
		return fmt.Errorf("mediagraph: node command: not a node object")
	}
	var cmdOp scheduler.CmdOp
	switch op {
	case session.NodeCmdPause:
		cmdOp = scheduler.CmdPause
	case session.NodeCmdStart:
		cmdOp = scheduler.CmdStart
	case session.NodeCmdSuspend:
		cmdOp = scheduler.CmdSuspend
	default:
		return fmt.Errorf("mediagraph: node command: unknown op %d", op)
	}
	if err := s.driver.SendCommand(scheduler.Command{NodeID: nh.id, Op: cmdOp}); err != nil {
		return fmt.Errorf("mediagraph: node command: %w", err)
	}
	return nil
}

// handleSetParam drives the C5 handshake's set_param step: it narrows one
// of a node's ports to a single client-proposed format via
// internal/graph's per-port negotiation.
func (s *Server) handleSetParam(obj interface{}, portID uint32, dir port.Direction, format port.Format) error {
	nh, ok := obj.(nodeHandle)
	if !ok {
		return fmt.Errorf("mediagraph: set param: not a node object")
	}
	if _, err := s.g.NegotiatePort(nh.id, dir, format); err != nil {
		return fmt.Errorf("mediagraph: set param: %w", err)
	}
	return nil
}

// handleUseBuffers drives the C5 handshake's use_buffers step: it
// confirms the node's negotiated ports are ready to receive shared-memory
// buffers, moving them from Ready to Paused.
func (s *Server) handleUseBuffers(obj interface{}, portID uint32) error {
	nh, ok := obj.(nodeHandle)
	if !ok {
		return fmt.Errorf("mediagraph: use buffers: not a node object")
	}
	if err := s.g.UseBuffers(nh.id); err != nil {
		return fmt.Errorf("mediagraph: use buffers: %w", err)
	}
	return nil
}

// handleDestroy tears down a node or link a peer has released via
// OpDestroy: a link is unwired from the graph and the scheduler, with its
// producer's buffer pool consumer count recomputed; a node is removed
// from the graph, the scheduler, and its buffer pool dropped.
func (s *Server) handleDestroy(obj interface{}, kind registry.Kind) {
	switch kind {
	case registry.KindLink:
		l, ok := obj.(*graph.Link)
		if !ok {
			return
		}
		s.g.RemoveLink(l.ID)
		_ = s.driver.SetProducer(l.ToNode, 0, false)
		s.nodeMu.Lock()
		producerPool, hasPool := s.nodePools[l.FromNode]
		s.nodeMu.Unlock()
		if hasPool {
			producerPool.SetConsumerCount(s.g.ConsumerCount(l.FromNode))
		}

	case registry.KindNode:
		nh, ok := obj.(nodeHandle)
		if !ok {
			return
		}
		_ = s.driver.RemoveNode(nh.id)
		s.g.RemoveNode(nh.id)
		s.nodeMu.Lock()
		delete(s.nodePools, nh.id)
		s.nodeMu.Unlock()
	}
}

// Serve starts the realtime scheduler and accepts connections until ctx
// is cancelled, StopAndDelete is called, or an unrecoverable error
// occurs.
func (s *Server) Serve(ctx context.Context) error {
	s.driver.Start()
	return s.sess.Serve(ctx)
}

// ServerState represents the current state of a running daemon.
type ServerState string

const (
	// ServerStateCreated is reported only for a Server with no start time.
	// NewServer records the start time at construction, so a Server it
	// returns reports ServerStateRunning even before Serve is called.
	ServerStateCreated ServerState = "created"
	// ServerStateRunning indicates the server is accepting connections
	// and driving its graph.
	ServerStateRunning ServerState = "running"
	// ServerStateStopped indicates the server has been stopped.
	ServerStateStopped ServerState = "stopped"
)

// State returns the current state of the server.
func (s *Server) State() ServerState {
	if s == nil || s.stopped {
		return ServerStateStopped
	}
	select {
	case <-s.ctx.Done():
		return ServerStateStopped
	default:
	}
	if s.started.IsZero() {
		return ServerStateCreated
	}
	return ServerStateRunning
}

// IsRunning returns true if State reports ServerStateRunning, which holds
// from NewServer until the server is stopped, whether or not Serve has
// started the scheduler.
func (s *Server) IsRunning() bool {
	return s.State() == ServerStateRunning
}

// Info contains comprehensive information about a running server.
type Info struct {
	SocketPath    string        `json:"socket_path"`
	State         ServerState   `json:"state"`
	CycleDuration time.Duration `json:"cycle_duration_ns"`
	NodeCount     int           `json:"node_count"`
	LinkCount     int           `json:"link_count"`
}

// Info returns comprehensive information about the server.
func (s *Server) Info() Info {
	if s == nil {
		return Info{}
	}
	s.nodeMu.Lock()
	nodeCount := len(s.nodePools)
	s.nodeMu.Unlock()
	return Info{
		SocketPath:    s.cfg.SocketPath,
		State:         s.State(),
		CycleDuration: s.cfg.CycleDuration,
		NodeCount:     nodeCount,
		LinkCount:     len(s.g.Links()),
	}
}

// Metrics returns the current metrics for the server.
func (s *Server) Metrics() *Metrics {
	if s == nil {
		return nil
	}
	return s.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of server metrics.
func (s *Server) MetricsSnapshot() MetricsSnapshot {
	if s == nil || s.metrics == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.Snapshot()
}

// SchedulerMetrics returns a point-in-time snapshot of the realtime
// driver's cycle/xrun counters.
func (s *Server) SchedulerMetrics() scheduler.Metrics {
	if s == nil || s.driver == nil {
		return scheduler.Metrics{}
	}
	return s.driver.Metrics()
}

// Graph exposes the server's node/port/link graph, for callers (such as a
// session manager) that need to add links directly rather than through a
// connected peer's protocol messages.
func (s *Server) Graph() *graph.Graph {
	return s.g
}

// StopAndDelete stops the server's scheduler and session frontend. This
// should be called to cleanly shut down a daemon instance.
func StopAndDelete(ctx context.Context, srv *Server) error {
	if srv == nil {
		return NewError("STOP", CodeInvalidArgument, "nil server")
	}

	srv.cancel()

	if srv.metrics != nil {
		srv.metrics.Stop()
	}

	srv.driver.Stop()

	if err := srv.sess.Close(); err != nil {
		return fmt.Errorf("mediagraph: close session server: %w", err)
	}

	srv.stopped = true
	return nil
}
