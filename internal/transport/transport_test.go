package transport

import (
	"path/filepath"
	"testing"

	"github.com/behrlich/mediagraphd/internal/wire"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSendRecvRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "mediagraph-test.sock")

	ln, err := Listen(sockPath)
	require.NoError(t, err)
	defer ln.Close()

	clientDone := make(chan error, 1)
	var client *Conn
	go func() {
		c, err := Dial(sockPath)
		client = c
		clientDone <- err
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, <-clientDone)
	defer client.Close()

	h := wire.FrameHeader{ObjectID: 3, Opcode: 1, SizeQwords: 1}
	body := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, client.Send(h, body, nil))

	gotH, gotBody, gotFds, err := server.Recv()
	require.NoError(t, err)
	require.Equal(t, h, gotH)
	require.Equal(t, body, gotBody)
	require.Empty(t, gotFds)
}

func TestSendRecvWithFd(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "mediagraph-test-fd.sock")

	ln, err := Listen(sockPath)
	require.NoError(t, err)
	defer ln.Close()

	clientDone := make(chan error, 1)
	var client *Conn
	go func() {
		c, err := Dial(sockPath)
		client = c
		clientDone <- err
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, <-clientDone)
	defer client.Close()

	memfd, err := unix.MemfdCreate("transport-test", 0)
	require.NoError(t, err)
	defer unix.Close(memfd)

	h := wire.FrameHeader{ObjectID: 1, Opcode: 2, SizeQwords: 0}
	require.NoError(t, client.Send(h, nil, []int{memfd}))

	_, _, gotFds, err := server.Recv()
	require.NoError(t, err)
	require.Len(t, gotFds, 1)
	unix.Close(gotFds[0])
}

func TestPeerCredentials(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "mediagraph-test-cred.sock")

	ln, err := Listen(sockPath)
	require.NoError(t, err)
	defer ln.Close()

	clientDone := make(chan error, 1)
	go func() {
		c, err := Dial(sockPath)
		if err == nil {
			c.Close()
		}
		clientDone <- err
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, <-clientDone)

	cred, err := PeerCredentials(server.uc)
	require.NoError(t, err)
	require.Equal(t, uint32(unix.Getuid()), cred.UID)
}
