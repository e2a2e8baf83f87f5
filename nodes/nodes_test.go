package nodes

import (
	"context"
	"testing"

	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/port"
	"github.com/stretchr/testify/require"
)

func TestSineSourceFillsOutputNonZero(t *testing.T) {
	src := NewSineSource(48000, 440)
	out := make([]byte, 1024)
	io := &interfaces.ProcessIO{Output: out}

	require.NoError(t, src.Process(context.Background(), io))

	allZero := true
	for _, b := range out {
		if b != 0 {
			allZero = false
			break
		}
	}
	require.False(t, allZero, "sine source produced an all-zero buffer")
}

func TestSineSourcePauseProducesSilence(t *testing.T) {
	src := NewSineSource(48000, 440)
	require.NoError(t, src.Pause())

	out := make([]byte, 64)
	for i := range out {
		out[i] = 0xff
	}
	io := &interfaces.ProcessIO{Output: out}
	require.NoError(t, src.Process(context.Background(), io))

	for _, b := range out {
		require.Equal(t, byte(0), b)
	}
}

func TestNullSinkCountsBytes(t *testing.T) {
	sink := NewNullSink(48000)
	io := &interfaces.ProcessIO{Input: make([]byte, 128)}

	require.NoError(t, sink.Process(context.Background(), io))
	require.NoError(t, sink.Process(context.Background(), io))

	require.Equal(t, uint64(256), sink.BytesConsumed())
}

func TestPassthroughZeroDelayCopiesThrough(t *testing.T) {
	p := NewPassthrough(0, 48000)
	in := []byte{1, 2, 3, 4}
	out := make([]byte, 4)
	io := &interfaces.ProcessIO{Input: in, Output: out}

	require.NoError(t, p.Process(context.Background(), io))
	require.Equal(t, in, out)
}

func TestPassthroughDelaysByCycleCount(t *testing.T) {
	p := NewPassthrough(2, 48000)

	cycles := [][]byte{{1, 1}, {2, 2}, {3, 3}, {4, 4}}
	var got [][]byte
	for _, in := range cycles {
		out := make([]byte, 2)
		io := &interfaces.ProcessIO{Input: in, Output: out}
		require.NoError(t, p.Process(context.Background(), io))
		got = append(got, out)
	}

	// First two cycles see silence (no history yet); the third cycle
	// sees what was fed in on the first.
	require.Equal(t, []byte{0, 0}, got[0])
	require.Equal(t, []byte{0, 0}, got[1])
	require.Equal(t, []byte{1, 1}, got[2])
	require.Equal(t, []byte{2, 2}, got[3])
}

func TestPassthroughFormatsMatchOnBothSides(t *testing.T) {
	p := NewPassthrough(0, 48000)
	require.Equal(t, p.OutputFormats(), p.InputFormats())
	require.Equal(t, port.MediaTypeAudio, p.OutputFormats()[0].MediaType)
}

var (
	_ interfaces.Node = (*SineSource)(nil)
	_ interfaces.Node = (*NullSink)(nil)
	_ interfaces.Node = (*Passthrough)(nil)
)
