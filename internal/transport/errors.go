package transport

import "errors"

// ErrPeerGone is returned by Recv when the peer has closed its end of
// the connection.
var ErrPeerGone = errors.New("transport: peer disconnected")
