package mediagraph

import (
	"context"
	"sync"

	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/port"
)

// mockFormat is the single format every MockNode's ports declare, so two
// MockNodes linked together in a test always negotiate successfully
// without each test needing to pick a format.
var mockFormat = port.Format{MediaType: port.MediaTypeAudio, Rate: 48000, Channels: 1}

// MockFormats returns the format list a MockNode's ports declare, for
// tests asserting against internal/graph's negotiated format directly.
func MockFormats() []port.Format {
	return []port.Format{mockFormat}
}

// MockNode provides a mock implementation of interfaces.Node (and
// interfaces.Lifecycle) for testing. It copies its input to its output
// verbatim and tracks method calls for verification, the generalization of
// the teacher's MockBackend from a byte-range ReadAt/WriteAt backend to a
// per-cycle Process node.
type MockNode struct {
	mu sync.RWMutex

	closed  bool
	paused  bool
	started bool

	processCalls  int
	pauseCalls    int
	startCalls    int
	suspendCalls  int
	lastInput     []byte
	lastClockPos  uint64
	processErr    error
}

// NewMockNode creates a new mock node. This is useful for unit testing
// applications that assemble a graph out of internal/interfaces.Node
// implementations without a real source/sink.
func NewMockNode() *MockNode {
	return &MockNode{}
}

// Process implements interfaces.Node by copying io.Input into io.Output
// and recording the call for later assertions.
func (m *MockNode) Process(ctx context.Context, io *interfaces.ProcessIO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processCalls++
	m.lastClockPos = io.ClockPosition

	if m.closed {
		return NewError("PROCESS", CodeDisconnected, "node closed")
	}
	if m.processErr != nil {
		return m.processErr
	}

	m.lastInput = append(m.lastInput[:0], io.Input...)
	if io.Output != nil {
		n := copy(io.Output, io.Input)
		for i := n; i < len(io.Output); i++ {
			io.Output[i] = 0
		}
	}
	return nil
}

// Close implements interfaces.Node.
func (m *MockNode) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Pause implements interfaces.Lifecycle.
func (m *MockNode) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCalls++
	m.paused = true
	return nil
}

// Start implements interfaces.Lifecycle.
func (m *MockNode) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	m.started = true
	m.paused = false
	return nil
}

// Suspend implements interfaces.Lifecycle.
func (m *MockNode) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspendCalls++
	m.started = false
	m.paused = false
	return nil
}

// Testing utility methods.

// IsClosed returns true if Close has been called.
func (m *MockNode) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// IsPaused returns true if Pause was the most recent lifecycle call.
func (m *MockNode) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// IsStarted returns true if Start was called more recently than Suspend.
func (m *MockNode) IsStarted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// LastInput returns a copy of the most recent cycle's input buffer.
func (m *MockNode) LastInput() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.lastInput))
	copy(out, m.lastInput)
	return out
}

// CallCounts returns the number of times each method has been called.
func (m *MockNode) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"process": m.processCalls,
		"pause":   m.pauseCalls,
		"start":   m.startCalls,
		"suspend": m.suspendCalls,
	}
}

// SetProcessError makes every subsequent Process call fail with err, for
// exercising a scheduler's xrun/error-propagation paths.
func (m *MockNode) SetProcessError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processErr = err
}

// Reset resets all call counters and state flags.
func (m *MockNode) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processCalls = 0
	m.pauseCalls = 0
	m.startCalls = 0
	m.suspendCalls = 0
	m.closed = false
	m.paused = false
	m.started = false
	m.processErr = nil
}

// Compile-time interface checks.
var (
	_ interfaces.Node      = (*MockNode)(nil)
	_ interfaces.Lifecycle = (*MockNode)(nil)
)
