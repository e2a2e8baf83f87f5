// Package transport implements the local connection primitive (C3): a
// framed Unix domain socket connection carrying a FrameHeader plus a
// pod-encoded body, with file descriptors attached out of band via
// SCM_RIGHTS, and a credential check on accept via SO_PEERCRED. The
// framing and out-of-band fd bookkeeping is grounded on
// other_examples' Wayland client connection (readMsg/sendMsg,
// ParseUnixRights, pendingFds queue), generalized from Wayland's
// object-id/opcode/size header to this project's wire.FrameHeader and
// from a client-only connection to a bidirectional one used by both
// sides of a session.
package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/behrlich/mediagraphd/internal/wire"
	"golang.org/x/sys/unix"
)

// maxFdsPerMessage bounds how many descriptors a single frame may carry,
// guarding against a malicious peer exhausting this process's fd table
// with one oversized SCM_RIGHTS control message.
const maxFdsPerMessage = 16

// Conn is a framed connection over a Unix domain socket. It is safe for
// one concurrent reader and one concurrent writer (the scheduler and
// session layers never share a direction), but not for concurrent writers
// or concurrent readers.
type Conn struct {
	uc *net.UnixConn

	writeMu sync.Mutex

	readMu     sync.Mutex
	inBuf      []byte
	pendingFds []int
}

// NewConn wraps an already-established *net.UnixConn as a framed Conn.
func NewConn(uc *net.UnixConn) *Conn {
	return &Conn{uc: uc}
}

// Dial connects to a listening transport socket at path.
func Dial(path string) (*Conn, error) {
	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return NewConn(uc), nil
}

// Send writes one frame: header, pod-encoded body, and any fds attached
// via SCM_RIGHTS in the same underlying sendmsg(2) call as the body, so a
// reader never observes the header without its fds.
func (c *Conn) Send(h wire.FrameHeader, body []byte, fds []int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	hdr := wire.MarshalFrameHeader(&h)
	msg := append(hdr, body...)

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	rawConn, err := c.uc.SyscallConn()
	if err != nil {
		return fmt.Errorf("transport: syscall conn: %w", err)
	}

	var sendErr error
	ctrlErr := rawConn.Write(func(fd uintptr) bool {
		sendErr = unix.Sendmsg(int(fd), msg, oob, nil, 0)
		return sendErr != unix.EAGAIN
	})
	if ctrlErr != nil {
		return fmt.Errorf("transport: write: %w", ctrlErr)
	}
	if sendErr != nil {
		return fmt.Errorf("transport: sendmsg: %w", sendErr)
	}
	return nil
}

// Recv reads the next complete frame, returning its header, pod-encoded
// body, and any fds delivered alongside it. Fds are matched to frames in
// arrival order: a frame's declared body carries no fd count of its own,
// so callers must know from the opcode how many fds (if any) a given
// message type carries and take exactly that many off the front of the
// returned slice.
func (c *Conn) Recv() (wire.FrameHeader, []byte, []int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if len(c.inBuf) >= 8 {
			var h wire.FrameHeader
			if err := wire.UnmarshalFrameHeader(c.inBuf, &h); err != nil {
				return wire.FrameHeader{}, nil, nil, err
			}
			total := 8 + int(h.SizeQwords)*8
			if len(c.inBuf) >= total {
				body := make([]byte, total-8)
				copy(body, c.inBuf[8:total])
				c.inBuf = c.inBuf[total:]

				fds := c.pendingFds
				c.pendingFds = nil
				return h, body, fds, nil
			}
		}

		buf := make([]byte, 64*1024)
		oob := make([]byte, unix.CmsgSpace(maxFdsPerMessage*4))

		rawConn, err := c.uc.SyscallConn()
		if err != nil {
			return wire.FrameHeader{}, nil, nil, fmt.Errorf("transport: syscall conn: %w", err)
		}

		var n, oobn int
		var recvErr error
		ctrlErr := rawConn.Read(func(fd uintptr) bool {
			n, oobn, _, _, recvErr = unix.Recvmsg(int(fd), buf, oob, 0)
			return recvErr != unix.EAGAIN
		})
		if ctrlErr != nil {
			return wire.FrameHeader{}, nil, nil, fmt.Errorf("transport: read: %w", ctrlErr)
		}
		if recvErr != nil {
			return wire.FrameHeader{}, nil, nil, fmt.Errorf("transport: recvmsg: %w", recvErr)
		}
		if n == 0 {
			return wire.FrameHeader{}, nil, nil, ErrPeerGone
		}
		c.inBuf = append(c.inBuf, buf[:n]...)

		if oobn > 0 {
			scms, err := unix.ParseSocketControlMessage(oob[:oobn])
			if err == nil {
				for _, scm := range scms {
					rights, err := unix.ParseUnixRights(&scm)
					if err == nil {
						c.pendingFds = append(c.pendingFds, rights...)
					}
				}
			}
		}
	}
}

// Credentials returns the peer's verified uid/gid/pid, read once via
// SO_PEERCRED at accept time.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// PeerCredentials reads the connecting peer's kernel-verified identity.
// Unlike anything carried in the protocol itself, this cannot be spoofed
// by the peer, since SO_PEERCRED is populated by the kernel from the
// socket's connecting process at connect(2)/accept(2) time.
func PeerCredentials(uc *net.UnixConn) (Credentials, error) {
	rawConn, err := uc.SyscallConn()
	if err != nil {
		return Credentials{}, fmt.Errorf("transport: syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return Credentials{}, fmt.Errorf("transport: control: %w", ctrlErr)
	}
	if credErr != nil {
		return Credentials{}, fmt.Errorf("transport: getsockopt SO_PEERCRED: %w", credErr)
	}
	return Credentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.uc.Close()
}

// UnixConn exposes the underlying *net.UnixConn, for callers that need it
// directly (e.g. PeerCredentials).
func (c *Conn) UnixConn() *net.UnixConn {
	return c.uc
}
