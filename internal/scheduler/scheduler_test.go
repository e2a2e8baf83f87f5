package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/behrlich/mediagraphd/internal/graph"
	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/pool"
	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/stretchr/testify/require"
)

// countingNode is a minimal interfaces.Node that counts how many times
// Process was called and optionally sleeps past its cycle deadline.
type countingNode struct {
	calls atomic.Int64
	delay time.Duration
}

func (n *countingNode) Process(ctx context.Context, io *interfaces.ProcessIO) error {
	n.calls.Add(1)
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	if len(io.Output) > 0 && len(io.Input) > 0 {
		copy(io.Output, io.Input)
	}
	return nil
}

func (n *countingNode) Close() error { return nil }

func newTestGraph(t *testing.T, ids ...uint32) *graph.Graph {
	t.Helper()
	g := graph.New()
	fmts := []port.Format{{MediaType: port.MediaTypeAudio, Rate: 48000, Channels: 2}}
	for _, id := range ids {
		g.AddNode(id, true, fmts, fmts)
	}
	return g
}

func TestCmdRingPushPop(t *testing.T) {
	r := NewCmdRing(4)
	require.NoError(t, r.Push(Command{NodeID: 1, Op: CmdPause}))
	require.NoError(t, r.Push(Command{NodeID: 2, Op: CmdStart}))

	c, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, Command{NodeID: 1, Op: CmdPause}, c)

	c, ok = r.Pop()
	require.True(t, ok)
	require.Equal(t, Command{NodeID: 2, Op: CmdStart}, c)

	_, ok = r.Pop()
	require.False(t, ok)
}

func TestCmdRingFullReturnsError(t *testing.T) {
	r := NewCmdRing(2)
	require.NoError(t, r.Push(Command{NodeID: 1}))
	require.NoError(t, r.Push(Command{NodeID: 2}))
	require.ErrorIs(t, r.Push(Command{NodeID: 3}), ErrCmdRingFull)
}

func TestDriverRunsRegisteredNodesEachCycle(t *testing.T) {
	g := newTestGraph(t, 1, 2)
	_, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)

	d, err := NewDriver(Config{
		Graph:         g,
		CycleDuration: 20 * time.Millisecond,
		SafetyMargin:  2 * time.Millisecond,
	})
	require.NoError(t, err)

	srcPool, err := pool.New(4, 64)
	require.NoError(t, err)
	srcPool.SetConsumerCount(1)
	defer srcPool.Close()

	src := &countingNode{}
	sink := &countingNode{}

	require.NoError(t, d.AddNode(1, src, false, 0, srcPool))
	require.NoError(t, d.AddNode(2, sink, true, 1, nil))

	d.Start()
	time.Sleep(120 * time.Millisecond)
	d.Stop()

	require.Greater(t, src.calls.Load(), int64(2))
	require.Greater(t, sink.calls.Load(), int64(2))

	m := d.Metrics()
	require.Greater(t, m.CycleCount, uint64(2))
}

func TestDriverCountsXRunOnSlowNode(t *testing.T) {
	g := newTestGraph(t, 1)

	d, err := NewDriver(Config{
		Graph:         g,
		CycleDuration: 10 * time.Millisecond,
		SafetyMargin:  1 * time.Millisecond,
	})
	require.NoError(t, err)

	slow := &countingNode{delay: 50 * time.Millisecond}
	require.NoError(t, d.AddNode(1, slow, false, 0, nil))

	d.Start()
	time.Sleep(60 * time.Millisecond)
	d.Stop()

	m := d.Metrics()
	require.Greater(t, m.XRunCount, uint64(0))
}

func TestSendCommandAppliesLifecycleAtBoundary(t *testing.T) {
	g := newTestGraph(t, 1)

	d, err := NewDriver(Config{
		Graph:         g,
		CycleDuration: 10 * time.Millisecond,
		SafetyMargin:  1 * time.Millisecond,
	})
	require.NoError(t, err)

	lc := &lifecycleNode{}
	require.NoError(t, d.AddNode(1, lc, false, 0, nil))

	d.Start()
	require.NoError(t, d.SendCommand(Command{NodeID: 1, Op: CmdPause}))
	time.Sleep(40 * time.Millisecond)
	d.Stop()

	require.GreaterOrEqual(t, lc.pauseCalls.Load(), int64(1))
}

type lifecycleNode struct {
	countingNode
	pauseCalls   atomic.Int64
	startCalls   atomic.Int64
	suspendCalls atomic.Int64
}

func (n *lifecycleNode) Pause() error   { n.pauseCalls.Add(1); return nil }
func (n *lifecycleNode) Start() error   { n.startCalls.Add(1); return nil }
func (n *lifecycleNode) Suspend() error { n.suspendCalls.Add(1); return nil }
