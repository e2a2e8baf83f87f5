// Package pool implements the buffer pool manager (C6): a fixed set of
// shared-memory-backed buffers, each identified by a small integer
// buffer_id, cycled between a producing port and its consumers. The
// free-list bookkeeping is grounded on the teacher's size-bucketed
// sync.Pool wrapper in internal/queue/pool.go, generalized from
// ephemeral scratch buffers recycled by size to a fixed identity-tracked
// set of shared-memory buffers recycled by id, since every consumer must
// be able to name "buffer 3" on the wire rather than receiving an
// anonymous byte slice.
package pool

import (
	"fmt"
	"sync"

	"github.com/behrlich/mediagraphd/internal/shm"
)

// Buffer is one pool slot: a region of shared memory and its mapping. The
// per-buffer consumer countdown that decides when it is safe to recycle is
// kept by the owning Pool, not on the Buffer.
type Buffer struct {
	ID     uint32
	Region *shm.Region
	Data   []byte
}

// Pool is a fixed-size set of shared-memory buffers cycled between a
// single producer and zero or more consumers. Buffers are dequeued by
// the producer, written to, and handed to every current consumer link;
// a buffer is only returned to the free list once every consumer that
// received it for that cycle has released it, resolving spec.md §9's
// open question on multi-consumer output buffer ownership: the
// producing port keeps ownership and the pool tracks a per-buffer
// consumer countdown rather than handing ownership to any one consumer.
type Pool struct {
	mu        sync.Mutex
	buffers   map[uint32]*Buffer
	free      []uint32
	consumers int            // number of consumer links currently attached
	pending   map[uint32]int // buffer id -> consumers still holding it
}

// New creates a Pool of n buffers, each bufSize bytes, backed by freshly
// allocated shared memory regions.
func New(n, bufSize int) (*Pool, error) {
	p := &Pool{
		buffers: make(map[uint32]*Buffer, n),
		pending: make(map[uint32]int),
	}
	for i := 0; i < n; i++ {
		region, err := shm.Allocate(fmt.Sprintf("mediagraph-buf-%d", i), bufSize, shm.SealShrinkGrow)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool: allocate buffer %d: %w", i, err)
		}
		data, err := region.Map()
		if err != nil {
			region.Close()
			p.Close()
			return nil, fmt.Errorf("pool: map buffer %d: %w", i, err)
		}
		id := uint32(i)
		p.buffers[id] = &Buffer{ID: id, Region: region, Data: data}
		p.free = append(p.free, id)
	}
	return p, nil
}

// SetConsumerCount sets how many consumer links are currently attached to
// this pool's output. It must be updated by the graph whenever a link is
// added or removed so the per-buffer countdown stays accurate.
func (p *Pool) SetConsumerCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = n
}

// Dequeue removes a free buffer from the pool for the producer to fill,
// returning ErrPoolEmpty if none are available.
func (p *Pool) Dequeue() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil, ErrPoolEmpty
	}
	id := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return p.buffers[id], nil
}

// Publish marks a filled buffer as delivered to every current consumer,
// arming its countdown. If there are no consumers the buffer is returned
// to the free list immediately.
func (p *Pool) Publish(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.consumers <= 0 {
		p.free = append(p.free, id)
		return
	}
	p.pending[id] = p.consumers
}

// Release is called once by each consumer once it is done reading a
// published buffer. The buffer returns to the free list when the last
// consumer releases it.
func (p *Pool) Release(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining, ok := p.pending[id]
	if !ok {
		return
	}
	remaining--
	if remaining <= 0 {
		delete(p.pending, id)
		p.free = append(p.free, id)
		return
	}
	p.pending[id] = remaining
}

// Buffer returns the Buffer for id, or nil if id is not part of this pool.
func (p *Pool) Buffer(id uint32) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers[id]
}

// Close unmaps and closes every region in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, b := range p.buffers {
		if err := b.Region.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the total number of buffers in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}

// FreeCount returns the number of buffers currently on the free list.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
