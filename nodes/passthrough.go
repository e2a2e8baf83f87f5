package nodes

import (
	"context"
	"sync"

	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/port"
)

// ringShardSize is the number of consecutive history slots covered by one
// shard lock, the same sharding granularity the teacher's Memory backend
// uses to let parallel I/O proceed without one lock covering the whole
// buffer.
const ringShardSize = 4096

// Passthrough delays its input by a fixed number of cycles before copying
// it to its output, using a ring buffer of shards each guarded by their
// own mutex, adapted from the teacher's Memory backend's sharded-lock
// technique: instead of sharding a block device's address space,
// Passthrough shards its delay line by slot index. Process also holds
// p.mu for its whole call, so Process calls are serialized regardless of
// the shards.
type Passthrough struct {
	delayCycles int
	sampleRate  float64

	mu      sync.Mutex
	history [][]byte // ring of the last delayCycles input buffers
	next    int
	shards  []sync.RWMutex
}

// NewPassthrough creates a Passthrough that delays its input by
// delayCycles scheduler cycles before emitting it (0 means no delay: copy
// straight through). It accepts and emits mono audio at sampleRate.
func NewPassthrough(delayCycles int, sampleRate float64) *Passthrough {
	if delayCycles < 0 {
		delayCycles = 0
	}
	p := &Passthrough{delayCycles: delayCycles, sampleRate: sampleRate}
	if delayCycles > 0 {
		p.history = make([][]byte, delayCycles)
	}
	return p
}

func (p *Passthrough) format() port.Format {
	return port.Format{MediaType: port.MediaTypeAudio, Rate: uint32(p.sampleRate), Channels: 1}
}

// OutputFormats declares the single mono format this node emits.
func (p *Passthrough) OutputFormats() []port.Format { return []port.Format{p.format()} }

// InputFormats declares the single mono format this node accepts; it
// matches OutputFormats since a passthrough neither resamples nor
// remixes channels.
func (p *Passthrough) InputFormats() []port.Format { return []port.Format{p.format()} }

func (p *Passthrough) shardFor(off int) *sync.RWMutex {
	idx := off / ringShardSize
	for idx >= len(p.shards) {
		p.shards = append(p.shards, sync.RWMutex{})
	}
	return &p.shards[idx]
}

// Process copies io.Input to io.Output, delayed by p.delayCycles cycles.
func (p *Passthrough) Process(ctx context.Context, io *interfaces.ProcessIO) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.delayCycles == 0 {
		n := copy(io.Output, io.Input)
		for i := n; i < len(io.Output); i++ {
			io.Output[i] = 0
		}
		return nil
	}

	shard := p.shardFor(p.next)
	shard.Lock()
	outgoing := p.history[p.next]
	buffered := make([]byte, len(io.Input))
	copy(buffered, io.Input)
	p.history[p.next] = buffered
	p.next = (p.next + 1) % p.delayCycles
	shard.Unlock()

	n := copy(io.Output, outgoing)
	for i := n; i < len(io.Output); i++ {
		io.Output[i] = 0
	}
	return nil
}

// Close implements interfaces.Node.
func (p *Passthrough) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	return nil
}

var _ interfaces.Node = (*Passthrough)(nil)
