package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/behrlich/mediagraphd/internal/registry"
	"github.com/behrlich/mediagraphd/internal/transport"
	"github.com/behrlich/mediagraphd/internal/wire"
	"golang.org/x/sys/unix"
)

// pingInterval is how often an idle connection is probed for liveness,
// the supplemented Ping/Pong roundtrip from original_source/'s
// pinos/client/proxy.c pattern (see DESIGN.md).
const pingInterval = 5 * time.Second

// kindCore is the registry.Kind this package's per-connection resource
// table uses to reserve the core resource's local slot; the registry
// package's own Kind enum doesn't know about session-level concepts, so
// this reuses KindClient the same way internal/graph layers its own
// NodeInfo on top of internal/port's Port.
const kindCore registry.Kind = registry.KindClient

// Session is one connection's bootstrap + registry state: its local
// resource table (ids the peer has bound), whether it has bound a
// registry, and which globals it created via CreateObject (so they can
// be retired when the connection drops).
type Session struct {
	srv  *Server
	conn *transport.Conn

	creds transport.Credentials

	res *registry.Registry

	mu           sync.Mutex
	registryID   uint32
	hasRegistry  bool
	boundGlobals map[uint32]uint32 // global id -> local bound id
	ownedGlobals map[uint32]struct{}

	pendingPing  int32
	missedPongs  int
	writeMu      sync.Mutex
}

func newSession(srv *Server, conn *transport.Conn) (*Session, error) {
	creds, err := transport.PeerCredentials(conn.UnixConn())
	if err != nil {
		return nil, fmt.Errorf("session: peer credentials: %w", err)
	}
	s := &Session{
		srv:          srv,
		conn:         conn,
		creds:        creds,
		res:          registry.New(),
		boundGlobals: make(map[uint32]uint32),
		ownedGlobals: make(map[uint32]struct{}),
	}
	s.res.Add(kindCore, nil) // reserves id 1; core itself is id 0 by convention
	return s, nil
}

// run drives the session's receive loop and periodic liveness ping until
// the peer disconnects, ctx is cancelled, or a connection-level error
// occurs (spec.md §7's Malformed/PeerGone/IoError class).
func (s *Session) run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pingLoop(ctx)
	}()
	defer func() {
		<-done
	}()

	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		h, body, fds, err := s.conn.Recv()
		for _, fd := range fds {
			unix.Close(fd) // none of the bootstrap opcodes carry fds today
		}
		if err != nil {
			return
		}
		if err := s.dispatch(h.ObjectID, h.Opcode, body); err != nil {
			s.sendError(h.ObjectID, resultFromError(err), err.Error())
		}
	}
}

func (s *Session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.srv.cfg.PingInterval)
	defer ticker.Stop()
	token := int32(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.pendingPing != 0 {
				s.missedPongs++
				if s.missedPongs >= s.srv.cfg.MissedPongLimit {
					s.mu.Unlock()
					s.conn.Close()
					return
				}
			} else {
				s.missedPongs = 0
			}
			token++
			s.pendingPing = token
			t := token
			s.mu.Unlock()

			h, body := buildFrame(CoreObjectID, EvPing, encodePingPong(0, t))
			s.send(h, body)
		}
	}
}

func (s *Session) dispatch(objectID uint32, opcode uint16, body []byte) error {
	if objectID == CoreObjectID {
		return s.dispatchCore(opcode, body)
	}

	s.mu.Lock()
	_, isRegistry := s.registryObjectID(objectID)
	s.mu.Unlock()
	if isRegistry {
		return s.dispatchRegistry(opcode, body)
	}

	if entry, err := s.res.Lookup(objectID); err == nil && entry.Kind == registry.KindNode {
		return s.dispatchNode(entry.Object, opcode, body)
	}

	return fmt.Errorf("%w: object %d", ErrUnknownObject, objectID)
}

// dispatchNode routes the C5 port/parameter handshake and node lifecycle
// commands (spec.md §4.5) to the callbacks a session manager installed in
// Config; obj is the bound object's Global.Object, opaque here.
func (s *Session) dispatchNode(obj interface{}, opcode uint16, body []byte) error {
	switch opcode {
	case OpSetParam:
		if s.srv.cfg.SetParam == nil {
			return fmt.Errorf("%w: node opcode %d", ErrUnknownObject, opcode)
		}
		portID, dir, format, err := decodeSetParam(body)
		if err != nil {
			return err
		}
		return s.srv.cfg.SetParam(obj, portID, dir, format)

	case OpUseBuffers:
		if s.srv.cfg.UseBuffers == nil {
			return fmt.Errorf("%w: node opcode %d", ErrUnknownObject, opcode)
		}
		portID, err := decodeUseBuffers(body)
		if err != nil {
			return err
		}
		return s.srv.cfg.UseBuffers(obj, portID)

	case OpNodeCommand:
		if s.srv.cfg.NodeCommand == nil {
			return fmt.Errorf("%w: node opcode %d", ErrUnknownObject, opcode)
		}
		op, err := decodeNodeCommand(body)
		if err != nil {
			return err
		}
		return s.srv.cfg.NodeCommand(obj, op)

	default:
		return fmt.Errorf("%w: node opcode %d", ErrUnknownObject, opcode)
	}
}

func (s *Session) registryObjectID(objectID uint32) (uint32, bool) {
	if s.hasRegistry && objectID == s.registryID {
		return objectID, true
	}
	return 0, false
}

func (s *Session) dispatchCore(opcode uint16, body []byte) error {
	switch opcode {
	case OpHello:
		_, err := decodeHello(body)
		return err

	case OpSync:
		targetID, token, err := decodeSync(body)
		if err != nil {
			return err
		}
		h, respBody := buildFrame(CoreObjectID, EvDone, encodeDone(targetID, token))
		s.send(h, respBody)
		return nil

	case OpGetRegistry:
		_, newID, err := decodeGetRegistry(body)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.hasRegistry = true
		s.registryID = uint32(newID)
		s.mu.Unlock()
		s.sendInitialGlobals()
		return nil

	case OpCreateObject:
		return s.handleCreateObject(body)

	case OpDestroy:
		id, err := decodeDestroy(body)
		if err != nil {
			return err
		}
		if entry, lookErr := s.res.Lookup(uint32(id)); lookErr == nil && s.srv.cfg.Destroy != nil {
			s.srv.cfg.Destroy(entry.Object, entry.Kind)
		}
		s.res.Remove(uint32(id))
		return nil

	case OpPong:
		id, token, err := decodePingPong(body)
		_ = id
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.pendingPing == token {
			s.pendingPing = 0
			s.missedPongs = 0
		}
		s.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("%w: core opcode %d", ErrUnknownObject, opcode)
	}
}

func (s *Session) dispatchRegistry(opcode uint16, body []byte) error {
	switch opcode {
	case OpBind:
		id, _, _, newID, err := decodeBind(body)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.boundGlobals[uint32(id)] = uint32(newID)
		s.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("%w: registry opcode %d", ErrUnknownObject, opcode)
	}
}

func (s *Session) handleCreateObject(body []byte) error {
	factoryName, objType, version, props, newID, err := decodeCreateObject(body)
	if err != nil {
		return err
	}

	factory, ok := s.srv.lookupFactory(factoryName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFactory, factoryName)
	}

	perm := s.srv.cfg.Permission(s.creds, &Global{Type: objType})
	if !perm.Has(PermExecute) {
		return fmt.Errorf("%w: create %s", ErrPermissionDenied, objType)
	}

	g, err := factory(objType, uint32(version), props)
	if err != nil {
		return err
	}
	id := s.srv.AddGlobal(g)

	s.mu.Lock()
	s.ownedGlobals[id] = struct{}{}
	s.mu.Unlock()

	kind := registry.KindNode
	if objType == "link" {
		kind = registry.KindLink
	}
	if err := s.res.Bind(uint32(newID), kind, g.Object); err != nil {
		return err
	}
	return nil
}

func (s *Session) sendInitialGlobals() {
	for _, g := range s.srv.snapshotGlobals() {
		s.announceGlobal(g)
	}
}

func (s *Session) announceGlobal(g *Global) {
	s.mu.Lock()
	hasReg, regID := s.hasRegistry, s.registryID
	s.mu.Unlock()
	if !hasReg {
		return
	}
	perm := s.srv.cfg.Permission(s.creds, g)
	if !perm.Has(PermRead) {
		return
	}
	h, body := buildFrame(regID, EvGlobal, encodeGlobal(g, perm))
	s.send(h, body)
}

func (s *Session) announceGlobalRemoved(id uint32) {
	s.mu.Lock()
	hasReg, regID := s.hasRegistry, s.registryID
	s.mu.Unlock()
	if !hasReg {
		return
	}
	h, body := buildFrame(regID, EvGlobalRemoved, encodeGlobalRemoved(id))
	s.send(h, body)
}

func (s *Session) sendError(objectID uint32, res ResultCode, message string) {
	h, body := buildFrame(objectID, EvError, encodeError(int32(objectID), res, message))
	s.send(h, body)
}

// send serializes event writes against concurrent Recv-triggered replies,
// since Conn.Send is safe for exactly one writer at a time.
func (s *Session) send(h wire.FrameHeader, body []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Send(h, body, nil); err != nil && s.srv.cfg.Logger != nil {
		s.srv.cfg.Logger.Printf("session: send failed: %v", err)
	}
}

func (s *Session) ownedGlobalIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint32, 0, len(s.ownedGlobals))
	for id := range s.ownedGlobals {
		ids = append(ids, id)
	}
	return ids
}

func resultFromError(err error) ResultCode {
	switch {
	case errors.Is(err, ErrUnknownFactory), errors.Is(err, ErrUnknownObject):
		return ResultNotFound
	case errors.Is(err, ErrPermissionDenied):
		return ResultPermissionDenied
	case errors.Is(err, port.ErrNoCommonFormat):
		return ResultNoFormat
	default:
		return ResultInvalidArgument
	}
}
