package nodes

import (
	"context"
	"sync/atomic"

	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/port"
)

// NullSink consumes whatever input a linked producer hands it and
// discards it, the minimal node that can terminate a graph without
// originating a buffer pool of its own (CanAllocate=false).
type NullSink struct {
	sampleRate float64
	consumed   atomic.Uint64
}

// NewNullSink creates a NullSink accepting mono audio at sampleRate.
func NewNullSink(sampleRate float64) *NullSink {
	return &NullSink{sampleRate: sampleRate}
}

// InputFormats declares the single mono format this sink accepts.
func (n *NullSink) InputFormats() []port.Format {
	return []port.Format{{
		MediaType: port.MediaTypeAudio,
		Rate:      uint32(n.sampleRate),
		Channels:  1,
	}}
}

// Process counts the bytes it was handed and otherwise does nothing.
func (n *NullSink) Process(ctx context.Context, io *interfaces.ProcessIO) error {
	n.consumed.Add(uint64(len(io.Input)))
	return nil
}

// Close implements interfaces.Node.
func (n *NullSink) Close() error {
	return nil
}

// BytesConsumed returns the total bytes processed across every cycle, for
// tests asserting a graph actually ran data through a sink.
func (n *NullSink) BytesConsumed() uint64 {
	return n.consumed.Load()
}

var _ interfaces.Node = (*NullSink)(nil)
