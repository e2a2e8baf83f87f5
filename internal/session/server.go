// Package session implements the session/core frontend (C9): the
// bootstrap handshake on a connection's core object, the registry
// global/global_removed event stream, and credential-checked permission
// bits on every binding. Grounded on the teacher's top-level
// CreateAndServe/Device/Options shape in backend.go, generalized here from
// a single block device to an arbitrary number of concurrently connected
// peers. This package knows nothing of the graph or scheduler; the root
// mediagraph package's Server wires them to a session Server and carries
// the State()/Metrics()/Info() methods.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/behrlich/mediagraphd/internal/registry"
	"github.com/behrlich/mediagraphd/internal/transport"
)

// Global is one server-side object visible in the registry: a node,
// device, link, factory, client, or module, per spec.md §4.9's list.
type Global struct {
	ID      uint32
	Type    string
	Version uint32
	Props   map[string]string

	// Object is the concrete implementation (e.g. an internal/interfaces.Node
	// or *internal/graph.Link) a Bind resolves to; opaque to the session
	// layer, which only forwards the id.
	Object interface{}
}

// Factory constructs a new Global from CreateObject's type/props, the
// generalization of the teacher's single compiled-in backend (mem.New)
// to an open set of object kinds a session manager can register.
type Factory func(objType string, version uint32, props map[string]string) (*Global, error)

// Config configures a Server.
type Config struct {
	SocketPath string
	Logger     interfaces.Logger
	Permission PermissionFunc // nil uses AllowAll
	// MissedPongLimit is how many consecutive un-answered Pings disconnect
	// a peer, the liveness check supplemented from original_source/'s
	// proxy roundtrip pattern (see DESIGN.md).
	MissedPongLimit int
	// PingInterval overrides the default liveness probe period; zero uses
	// pingInterval. Exposed so tests don't have to wait out the real
	// production interval.
	PingInterval time.Duration

	// NodeCommand applies a Start/Pause/Suspend command (OpNodeCommand) to
	// the node bound under a registry.KindNode object. obj is that
	// object's Global.Object, opaque to this package; nil skips dispatch
	// with ErrUnknownObject, so an embedder that registers no node
	// factories never needs to wire this up.
	NodeCommand func(obj interface{}, op NodeCommandOp) error

	// SetParam proposes a Format for one of a node's ports (OpSetParam).
	SetParam func(obj interface{}, portID uint32, dir port.Direction, format port.Format) error

	// UseBuffers confirms a negotiated port (OpUseBuffers).
	UseBuffers func(obj interface{}, portID uint32) error

	// Destroy tears down the concrete object behind a bound id (node or
	// link) when a peer issues OpDestroy against it, called with the
	// object and its registry.Kind before the local resource entry is
	// removed. Nil means Destroy only drops the local binding, matching
	// this package's original behavior.
	Destroy func(obj interface{}, kind registry.Kind)
}

// Server accepts connections, runs the bootstrap handshake on each, and
// fans out global/global_removed events to every bound registry.
type Server struct {
	cfg Config
	ln  *transport.Listener

	mu           sync.Mutex
	globals      map[uint32]*Global
	nextGlobalID uint32
	factories    map[string]Factory
	sessions     map[*Session]struct{}

	wg sync.WaitGroup
}

// NewServer binds the listening socket and prepares an empty global
// table. It does not accept connections until Serve is called.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Permission == nil {
		cfg.Permission = AllowAll
	}
	if cfg.MissedPongLimit <= 0 {
		cfg.MissedPongLimit = 3
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = pingInterval
	}
	ln, err := transport.Listen(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("session: listen: %w", err)
	}
	return &Server{
		cfg:       cfg,
		ln:        ln,
		globals:   make(map[uint32]*Global),
		factories: make(map[string]Factory),
		sessions:  make(map[*Session]struct{}),
	}, nil
}

// RegisterFactory makes a named factory available to CreateObject.
func (s *Server) RegisterFactory(name string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = f
}

// AddGlobal publishes an already-constructed object as a new global,
// assigning it an id and announcing it to every currently bound
// registry. Used for globals the daemon creates itself (e.g. the default
// driver graph) rather than through CreateObject.
func (s *Server) AddGlobal(g *Global) uint32 {
	s.mu.Lock()
	s.nextGlobalID++
	g.ID = s.nextGlobalID
	s.globals[g.ID] = g
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.announceGlobal(g)
	}
	return g.ID
}

// RemoveGlobal retires a global and emits global_removed to every bound
// registry.
func (s *Server) RemoveGlobal(id uint32) {
	s.mu.Lock()
	delete(s.globals, id)
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.announceGlobalRemoved(id)
	}
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, running each connection's session loop on its own goroutine
// (one transport goroutine per peer, per spec.md §5's concurrency model).
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("session: accept: %w", err)
			}
		}

		sess, err := newSession(s, conn)
		if err != nil {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Printf("session: rejecting connection: %v", err)
			}
			conn.Close()
			continue
		}

		s.mu.Lock()
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run(ctx)
			s.removeSession(sess)
		}()
	}
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	owned := sess.ownedGlobalIDs()
	for _, id := range owned {
		delete(s.globals, id)
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for other := range s.sessions {
		sessions = append(sessions, other)
	}
	s.mu.Unlock()

	// A departed connection's globals are removed for every surviving
	// peer, per spec.md §7's propagation policy for connection-level
	// errors.
	for _, id := range owned {
		for _, other := range sessions {
			other.announceGlobalRemoved(id)
		}
	}
}

// snapshotGlobals returns every currently live global, for a freshly
// bound registry's initial announcement burst.
func (s *Server) snapshotGlobals() []*Global {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Global, 0, len(s.globals))
	for _, g := range s.globals {
		out = append(out, g)
	}
	return out
}

func (s *Server) lookupFactory(name string) (Factory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.factories[name]
	return f, ok
}

// Close stops accepting connections and closes the listening socket.
func (s *Server) Close() error {
	return s.ln.Close()
}
