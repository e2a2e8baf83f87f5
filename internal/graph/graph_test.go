package graph

import (
	"testing"

	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/stretchr/testify/require"
)

var testFormat = port.Format{MediaType: port.MediaTypeAudio, Rate: 48000, Channels: 2}

func bothPorts() ([]port.Format, []port.Format) {
	return []port.Format{testFormat}, []port.Format{testFormat}
}

func TestAddLinkAndOrder(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, true, out, nil)
	g.AddNode(2, false, out, in)
	g.AddNode(3, false, nil, in)

	_, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)
	_, err = g.AddLink(2, 0, 3, 0)
	require.NoError(t, err)

	order, err := g.Order()
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, order)
}

func TestAddLinkRejectsCycle(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, true, out, in)
	g.AddNode(2, false, out, in)

	_, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)

	_, err = g.AddLink(2, 0, 1, 0)
	require.ErrorIs(t, err, ErrWouldCycle)
}

func TestAddLinkUnknownNode(t *testing.T) {
	g := New()
	out, _ := bothPorts()
	g.AddNode(1, true, out, nil)
	_, err := g.AddLink(1, 0, 99, 0)
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestAddLinkDuplicateRejected(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, true, out, nil)
	g.AddNode(2, false, nil, in)
	_, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)
	_, err = g.AddLink(1, 0, 2, 0)
	require.ErrorIs(t, err, ErrDuplicateLink)
}

func TestAddLinkRejectsMissingPort(t *testing.T) {
	g := New()
	g.AddNode(1, true, nil, nil)
	g.AddNode(2, false, nil, nil)
	_, err := g.AddLink(1, 0, 2, 0)
	require.ErrorIs(t, err, ErrNoPort)
}

func TestAddLinkRejectsIncompatibleFormat(t *testing.T) {
	g := New()
	g.AddNode(1, true, []port.Format{{MediaType: port.MediaTypeAudio, Rate: 44100, Channels: 2}}, nil)
	g.AddNode(2, false, nil, []port.Format{{MediaType: port.MediaTypeAudio, Rate: 48000, Channels: 2}})
	_, err := g.AddLink(1, 0, 2, 0)
	require.ErrorIs(t, err, ErrNoFormat)
}

func TestAddLinkNegotiatesFormatOnLink(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, true, out, nil)
	g.AddNode(2, false, nil, in)
	l, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)
	require.Equal(t, testFormat, l.NegotiatedAt)
}

func TestAddLinkFansOutAlreadyReadyOutput(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, true, out, nil)
	g.AddNode(2, false, nil, in)
	g.AddNode(3, false, nil, in)

	_, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)
	_, err = g.AddLink(1, 0, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 2, g.ConsumerCount(1))
}

func TestChooseAllocatorPrefersOutputSide(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, true, out, nil)
	g.AddNode(2, true, nil, in)
	l, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)
	require.Equal(t, AllocatorOutput, l.Allocator)
}

func TestChooseAllocatorFallsBackToInputSide(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, false, out, nil)
	g.AddNode(2, true, nil, in)
	l, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)
	require.Equal(t, AllocatorInput, l.Allocator)
}

func TestRemoveNodeDropsItsLinks(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, true, out, nil)
	g.AddNode(2, false, nil, in)
	_, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)

	g.RemoveNode(2)
	require.Empty(t, g.Links())

	order, err := g.Order()
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, order)
}

func TestRemoveLinkSuspendsPortsOnlyWhenLastLinkGone(t *testing.T) {
	g := New()
	out, in := bothPorts()
	g.AddNode(1, true, out, nil)
	g.AddNode(2, false, nil, in)
	g.AddNode(3, false, nil, in)

	l1, err := g.AddLink(1, 0, 2, 0)
	require.NoError(t, err)
	_, err = g.AddLink(1, 0, 3, 0)
	require.NoError(t, err)

	g.RemoveLink(l1.ID)
	require.Equal(t, port.StateReady, g.nodes[1].OutputPort.State(), "producer still has another consumer")
	require.Equal(t, port.StateInit, g.nodes[2].InputPort.State(), "consumer's only producer link is gone")
}

func TestOrderWithDisconnectedNodes(t *testing.T) {
	g := New()
	g.AddNode(1, true, nil, nil)
	g.AddNode(2, true, nil, nil)
	order, err := g.Order()
	require.NoError(t, err)
	require.Len(t, order, 2)
}
