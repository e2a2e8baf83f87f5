package mediagraph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/behrlich/mediagraphd/internal/config"
	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/pod"
	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/behrlich/mediagraphd/internal/transport"
	"github.com/behrlich/mediagraphd/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SocketPath = filepath.Join(t.TempDir(), "mediagraph-server-test.sock")
	cfg.CycleDuration = 5 * time.Millisecond

	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = StopAndDelete(context.Background(), srv)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(cancel)

	require.Eventually(t, func() bool { return srv.IsRunning() }, time.Second, time.Millisecond)
	return srv
}

// buildCreateObject constructs the wire frame a client sends to ask the
// core object (id 0) to instantiate a registered node factory, matching
// internal/session's CreateObject body shape (factory, type, version,
// props, newID).
func buildCreateObject(factory, objType string, version int32, newID int32) (wire.FrameHeader, []byte) {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutString(factory)
	b.PutString(objType)
	b.PutInt(version)
	b.BeginStruct()
	b.End()
	b.PutInt(newID)
	b.End()
	body := b.Bytes()
	qwords := (len(body) + 7) / 8
	return wire.FrameHeader{ObjectID: 0, Opcode: 3, SizeQwords: uint16(qwords)}, body
}

func buildSync(targetID, token int32) (wire.FrameHeader, []byte) {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutInt(targetID)
	b.PutInt(token)
	b.End()
	body := b.Bytes()
	qwords := (len(body) + 7) / 8
	return wire.FrameHeader{ObjectID: 0, Opcode: 1, SizeQwords: uint16(qwords)}, body
}

func TestNewServerStartsRunning(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, ServerStateRunning, srv.State())
	require.True(t, srv.IsRunning())
}

func TestRegisterNodeFactoryWiresNodeIntoGraph(t *testing.T) {
	srv := newTestServer(t)

	node := NewMockNode()
	srv.RegisterNodeFactory("mock", func(version uint32, props map[string]string) (interfaces.Node, bool, int, []port.Format, []port.Format, error) {
		return node, true, 64, MockFormats(), nil, nil
	})

	conn, err := transport.Dial(srv.Info().SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	h, body := buildCreateObject("mock", "node", 1, 5)
	require.NoError(t, conn.Send(h, body, nil))

	h, body = buildSync(0, 1)
	require.NoError(t, conn.Send(h, body, nil))

	gotH, _, _, err := conn.Recv()
	require.NoError(t, err)
	require.Equal(t, uint16(0), gotH.Opcode) // EvDone

	require.Eventually(t, func() bool {
		return srv.Info().NodeCount == 1
	}, time.Second, time.Millisecond)
}

func buildPropsCreateObject(factory, objType string, version int32, props map[string]string, newID int32) (wire.FrameHeader, []byte) {
	b := pod.NewBuilder()
	b.BeginStruct()
	b.PutString(factory)
	b.PutString(objType)
	b.PutInt(version)
	b.BeginStruct()
	for k, v := range props {
		b.PutString(k)
		b.PutString(v)
	}
	b.End()
	b.PutInt(newID)
	b.End()
	body := b.Bytes()
	qwords := (len(body) + 7) / 8
	return wire.FrameHeader{ObjectID: 0, Opcode: 3, SizeQwords: uint16(qwords)}, body
}

func TestCreateLinkWiresSchedulerProducer(t *testing.T) {
	srv := newTestServer(t)

	source := NewMockNode()
	sink := NewMockNode()
	srv.RegisterNodeFactory("source", func(version uint32, props map[string]string) (interfaces.Node, bool, int, []port.Format, []port.Format, error) {
		return source, true, 64, MockFormats(), nil, nil
	})
	srv.RegisterNodeFactory("sink", func(version uint32, props map[string]string) (interfaces.Node, bool, int, []port.Format, []port.Format, error) {
		return sink, false, 0, nil, MockFormats(), nil
	})

	conn, err := transport.Dial(srv.Info().SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	h, body := buildCreateObject("source", "node", 1, 1)
	require.NoError(t, conn.Send(h, body, nil))
	h, body = buildCreateObject("sink", "node", 1, 2)
	require.NoError(t, conn.Send(h, body, nil))

	h, body = buildPropsCreateObject("link", "link", 1, map[string]string{
		"from-node": "1",
		"from-port": "0",
		"to-node":   "2",
		"to-port":   "0",
	}, 3)
	require.NoError(t, conn.Send(h, body, nil))

	h, body = buildSync(0, 1)
	require.NoError(t, conn.Send(h, body, nil))

	gotH, _, _, err := conn.Recv()
	require.NoError(t, err)
	require.Equal(t, uint16(0), gotH.Opcode)

	require.Eventually(t, func() bool {
		return srv.Info().LinkCount == 1
	}, time.Second, time.Millisecond)
}

func TestCreateLinkRejectsIncompatibleFormats(t *testing.T) {
	srv := newTestServer(t)

	source := NewMockNode()
	sink := NewMockNode()
	srv.RegisterNodeFactory("odd-source", func(version uint32, props map[string]string) (interfaces.Node, bool, int, []port.Format, []port.Format, error) {
		return source, true, 64, []port.Format{{MediaType: port.MediaTypeAudio, Rate: 44100, Channels: 2}}, nil, nil
	})
	srv.RegisterNodeFactory("odd-sink", func(version uint32, props map[string]string) (interfaces.Node, bool, int, []port.Format, []port.Format, error) {
		return sink, false, 0, nil, MockFormats(), nil
	})

	conn, err := transport.Dial(srv.Info().SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	h, body := buildCreateObject("odd-source", "node", 1, 1)
	require.NoError(t, conn.Send(h, body, nil))
	h, body = buildCreateObject("odd-sink", "node", 1, 2)
	require.NoError(t, conn.Send(h, body, nil))

	h, body = buildPropsCreateObject("link", "link", 1, map[string]string{
		"from-node": "1",
		"from-port": "0",
		"to-node":   "2",
		"to-port":   "0",
	}, 3)
	require.NoError(t, conn.Send(h, body, nil))

	h, body = buildSync(0, 1)
	require.NoError(t, conn.Send(h, body, nil))

	gotH, _, _, err := conn.Recv()
	require.NoError(t, err)
	require.Equal(t, uint16(1), gotH.Opcode) // EvError: the link was rejected, Sync's Done never queued ahead of it

	require.Never(t, func() bool {
		return srv.Info().LinkCount == 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestStopAndDeleteTransitionsToStopped(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, StopAndDelete(context.Background(), srv))
	require.Equal(t, ServerStateStopped, srv.State())
}
