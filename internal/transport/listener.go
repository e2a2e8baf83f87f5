package transport

import (
	"fmt"
	"net"
	"os"
)

// Listener accepts incoming transport connections on a Unix domain
// socket, removing any stale socket file left behind by a previous,
// uncleanly terminated instance before binding.
type Listener struct {
	ln *net.UnixListener
}

// Listen binds a Listener at path.
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("transport: remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next incoming connection, returning it already
// wrapped as a framed Conn.
func (l *Listener) Accept() (*Conn, error) {
	uc, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return NewConn(uc), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
