// Package nodes provides example in-process internal/interfaces.Node
// implementations: a sine source, a null sink, and a passthrough node
// with an internal ring buffer. They exist so a daemon embedder (and this
// repository's own tests) has something concrete to wire into a graph
// without depending on real hardware I/O.
package nodes

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/port"
)

// SineSource produces a continuous sine wave as 32-bit float little-endian
// samples, the simplest possible node that can originate a buffer pool
// (CanAllocate=true) with no upstream producer.
type SineSource struct {
	sampleRate float64
	freqHz     float64
	phase      float64 // owned by the scheduler's single driving goroutine

	running atomic.Bool
	mu      sync.Mutex
}

// OutputFormats declares the single mono format this source emits, the
// list its output port offers a linked consumer during negotiation.
func (s *SineSource) OutputFormats() []port.Format {
	return []port.Format{{
		MediaType: port.MediaTypeAudio,
		Rate:      uint32(s.sampleRate),
		Channels:  1,
	}}
}

// NewSineSource creates a SineSource at the given sample rate and
// frequency.
func NewSineSource(sampleRate, freqHz float64) *SineSource {
	s := &SineSource{sampleRate: sampleRate, freqHz: freqHz}
	s.running.Store(true)
	return s
}

// Process fills io.Output with one cycle's worth of sine samples. A
// SineSource ignores io.Input; it has no upstream producer.
func (s *SineSource) Process(ctx context.Context, io *interfaces.ProcessIO) error {
	if !s.running.Load() {
		for i := range io.Output {
			io.Output[i] = 0
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	step := 2 * math.Pi * s.freqHz / s.sampleRate
	n := len(io.Output) / 4
	for i := 0; i < n; i++ {
		sample := float32(math.Sin(s.phase))
		binary.LittleEndian.PutUint32(io.Output[i*4:], math.Float32bits(sample))
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return nil
}

// Close implements interfaces.Node.
func (s *SineSource) Close() error {
	s.running.Store(false)
	return nil
}

// Pause implements interfaces.Lifecycle.
func (s *SineSource) Pause() error {
	s.running.Store(false)
	return nil
}

// Start implements interfaces.Lifecycle.
func (s *SineSource) Start() error {
	s.running.Store(true)
	return nil
}

// Suspend implements interfaces.Lifecycle.
func (s *SineSource) Suspend() error {
	s.mu.Lock()
	s.phase = 0
	s.mu.Unlock()
	return s.Pause()
}

var (
	_ interfaces.Node      = (*SineSource)(nil)
	_ interfaces.Lifecycle = (*SineSource)(nil)
)
