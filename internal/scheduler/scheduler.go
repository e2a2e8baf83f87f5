// Package scheduler implements the realtime graph driver loop (C8): one
// goroutine per driver graph, pinned to its OS thread exactly as the
// teacher pins its queue runner ("ublk_drv records one thread per queue
// and rejects commands from different threads" becomes "the driver
// thread must not migrate, to keep its realtime scheduling class").
// Each cycle walks the graph's topological order, wakes every node whose
// producer already completed this cycle, waits for it to signal
// completion before the cycle deadline, and counts an xrun for any node
// that misses it. This is the direct generalization of
// internal/queue/runner.go's ioLoop/processRequests/handleCompletion
// state machine: FETCH_REQ becomes "wait for this follower's producer",
// COMMIT_AND_FETCH_REQ becomes "signal completion and immediately arm the
// next cycle's wait".
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/behrlich/mediagraphd/internal/graph"
	"github.com/behrlich/mediagraphd/internal/interfaces"
	"github.com/behrlich/mediagraphd/internal/pool"
	"github.com/behrlich/mediagraphd/internal/signal"
	"golang.org/x/sys/unix"
)

// nodeState tracks a single node's progress through the current cycle,
// the media-graph analogue of the teacher's per-tag TagState: instead of
// InFlightFetch/Owned/InFlightCommit around one kernel I/O request, a
// node cycles between waiting to be woken, running Process, and having
// signaled completion.
type nodeState int

const (
	stateIdle nodeState = iota
	stateRunning
	stateDone
)

// NodeEntry is everything the driver tracks about one node placed in the
// graph: its Node implementation, the pool it publishes output buffers
// into (nil for a sink with no output port), and the wake/done signalers
// used to hand control to its dedicated goroutine and back.
type NodeEntry struct {
	ID          uint32
	Node        interfaces.Node
	OutputPool  *pool.Pool
	HasProducer bool
	ProducerID  uint32

	wake signal.Signaler
	done signal.Signaler

	mu            sync.Mutex
	state         nodeState
	lastBufferID  uint32
	hasLastBuffer bool
	lastErr       error
	pendingIO     *interfaces.ProcessIO
}

// Lifecycle returns n's optional Lifecycle capability, or nil if the
// underlying Node does not implement it.
func (n *NodeEntry) Lifecycle() interfaces.Lifecycle {
	if l, ok := n.Node.(interfaces.Lifecycle); ok {
		return l
	}
	return nil
}

// Metrics is a snapshot of the driver's realtime counters.
type Metrics struct {
	CycleCount uint64
	XRunCount  uint64
}

// Config configures a Driver.
type Config struct {
	Graph         *graph.Graph
	CycleDuration time.Duration
	SafetyMargin  time.Duration
	ClockRate     uint32
	Observer      interfaces.Observer
	Logger        interfaces.Logger
	// CPUAffinity pins the driver thread to one CPU, the first one
	// listed, mirroring the teacher's cpuAffinity field in
	// internal/queue.Config.
	CPUAffinity []int
	// RealtimePriority requests SCHED_FIFO on the driver thread when the
	// process has permission to set it; failure is logged and otherwise
	// ignored, never fatal.
	RealtimePriority int
}

// Driver runs one graph's realtime cycle loop.
type Driver struct {
	g             *graph.Graph
	cycleDuration time.Duration
	safetyMargin  time.Duration
	clockRate     uint32
	observer      interfaces.Observer
	logger        interfaces.Logger
	cpuAffinity   []int
	rtPriority    int

	mu      sync.Mutex
	entries map[uint32]*NodeEntry

	cmds *CmdRing

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycleCount atomic.Uint64
	xrunCount  atomic.Uint64

	clockPosition atomic.Uint64
	xrunSinceLast atomic.Uint32
}

// NewDriver creates a Driver for one graph. CycleDuration/SafetyMargin
// are normally config.DefaultCycleDuration and config.SafetyMargin's
// result.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("scheduler: graph is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		g:             cfg.Graph,
		cycleDuration: cfg.CycleDuration,
		safetyMargin:  cfg.SafetyMargin,
		clockRate:     cfg.ClockRate,
		observer:      cfg.Observer,
		logger:        cfg.Logger,
		cpuAffinity:   cfg.CPUAffinity,
		rtPriority:    cfg.RealtimePriority,
		entries:       make(map[uint32]*NodeEntry),
		cmds:          NewCmdRing(256),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// AddNode registers a Node to be driven each cycle. producerID/hasProducer
// describe the upstream node supplying this node's input buffer, if any;
// outputPool is the pool this node publishes produced buffers into, or
// nil for a node with no output port.
func (d *Driver) AddNode(id uint32, node interfaces.Node, hasProducer bool, producerID uint32, outputPool *pool.Pool) error {
	wake, err := signal.NewEventFD()
	if err != nil {
		return fmt.Errorf("scheduler: wake signaler for node %d: %w", id, err)
	}
	done, err := signal.NewEventFD()
	if err != nil {
		wake.Close()
		return fmt.Errorf("scheduler: done signaler for node %d: %w", id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[id]; exists {
		wake.Close()
		done.Close()
		return ErrAlreadyRegistered
	}
	entry := &NodeEntry{
		ID:          id,
		Node:        node,
		OutputPool:  outputPool,
		HasProducer: hasProducer,
		ProducerID:  producerID,
		wake:        wake,
		done:        done,
	}
	d.entries[id] = entry
	d.wg.Add(1)
	go d.nodeLoop(entry)
	return nil
}

// SetProducer rewires which upstream node id (if any) this node reads its
// input buffer from, applied starting with the next cycle. Used when a
// link is created or removed after the node was already registered, since
// AddNode's hasProducer/producerID are only a snapshot at registration
// time.
func (d *Driver) SetProducer(id uint32, producerID uint32, hasProducer bool) error {
	d.mu.Lock()
	entry, ok := d.entries[id]
	d.mu.Unlock()
	if !ok {
		return ErrUnknownNode
	}
	entry.mu.Lock()
	entry.HasProducer = hasProducer
	entry.ProducerID = producerID
	entry.mu.Unlock()
	return nil
}

// RemoveNode stops driving a node and releases its signalers. Safe to
// call while the driver loop is running; the removed node simply stops
// appearing in future cycles once the graph order no longer includes it.
func (d *Driver) RemoveNode(id uint32) error {
	d.mu.Lock()
	entry, ok := d.entries[id]
	if !ok {
		d.mu.Unlock()
		return ErrUnknownNode
	}
	delete(d.entries, id)
	d.mu.Unlock()

	entry.wake.Close()
	entry.done.Close()
	return nil
}

// SendCommand enqueues a Lifecycle command to be applied at the next
// cycle boundary.
func (d *Driver) SendCommand(c Command) error {
	return d.cmds.Push(c)
}

// Start pins the driver loop to its own OS thread and begins the cycle
// loop. It returns once the loop goroutine has launched; it does not
// block for the loop's lifetime.
func (d *Driver) Start() {
	d.wg.Add(1)
	go d.driverLoop()
}

// Stop signals the driver loop and every node goroutine to exit, and
// waits for them to finish.
func (d *Driver) Stop() {
	d.cancel()
	d.wg.Wait()
}

// Metrics returns a snapshot of the driver's realtime counters.
func (d *Driver) Metrics() Metrics {
	return Metrics{
		CycleCount: d.cycleCount.Load(),
		XRunCount:  d.xrunCount.Load(),
	}
}

// driverLoop is the main realtime cycle loop, directly analogous to the
// teacher's ioLoop.
func (d *Driver) driverLoop() {
	defer d.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(d.cpuAffinity) > 0 {
		var mask unix.CPUSet
		mask.Set(d.cpuAffinity[0])
		if err := unix.SchedSetaffinity(0, &mask); err != nil && d.logger != nil {
			d.logger.Printf("scheduler: failed to set CPU affinity: %v", err)
		}
	}
	if d.rtPriority > 0 {
		sp := &unix.SchedParam{Priority: int32(d.rtPriority)}
		if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, sp); err != nil && d.logger != nil {
			d.logger.Printf("scheduler: failed to set SCHED_FIFO, running at default priority: %v", err)
		}
	}

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			d.runCycle()
		}
	}
}

// runCycle executes one realtime cycle: drain pending commands, publish
// the clock position, walk the topological order waking each node whose
// producer already finished, and collect xruns from any that miss the
// deadline.
func (d *Driver) runCycle() {
	cycleStart := time.Now()
	deadline := cycleStart.Add(d.cycleDuration - d.safetyMargin)

	d.cmds.DrainAll(d.applyCommand)

	order, err := d.g.Order()
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("scheduler: topological order failed, skipping cycle: %v", err)
		}
		d.sleepUntilNext(cycleStart)
		return
	}

	cycleXruns := uint32(0)

	for _, id := range order {
		d.mu.Lock()
		entry, ok := d.entries[id]
		d.mu.Unlock()
		if !ok {
			continue
		}

		io := &interfaces.ProcessIO{
			ClockPosition: d.clockPosition.Load(),
			ClockDuration: uint64(d.cycleDuration / time.Nanosecond),
		}
		entry.mu.Lock()
		hasProducer, producerID := entry.HasProducer, entry.ProducerID
		entry.mu.Unlock()
		producerDone := true
		if hasProducer {
			d.mu.Lock()
			producer, ok := d.entries[producerID]
			d.mu.Unlock()
			if ok {
				producer.mu.Lock()
				producerDone = producer.state == stateDone
				if producer.hasLastBuffer && producer.OutputPool != nil {
					if buf := producer.OutputPool.Buffer(producer.lastBufferID); buf != nil {
						io.Input = buf.Data
					}
				}
				producer.mu.Unlock()
			}
		}
		if !producerDone {
			// The producer did not complete this cycle, so this node's
			// input is missing: it is not woken, and its own consumers
			// are skipped in turn.
			entry.mu.Lock()
			entry.state = stateIdle
			entry.mu.Unlock()
			continue
		}

		var outBuf *pool.Buffer
		if entry.OutputPool != nil {
			outBuf, _ = entry.OutputPool.Dequeue()
			if outBuf != nil {
				io.Output = outBuf.Data
			}
		}

		entry.mu.Lock()
		entry.state = stateRunning
		entry.pendingIO = io
		entry.mu.Unlock()

		if err := entry.wake.Signal(); err != nil {
			if d.logger != nil {
				d.logger.Printf("scheduler: failed to wake node %d: %v", id, err)
			}
			continue
		}

		waitErr := entry.done.Wait(deadline)

		entry.mu.Lock()
		if waitErr != nil {
			cycleXruns++
			d.xrunCount.Add(1)
			if d.observer != nil {
				d.observer.ObserveXRun()
			}
			// Leave entry.lastBufferID untouched, and leave entry.state
			// at stateRunning so downstream consumers are not woken
			// this cycle. The
			// dequeued buffer is held back rather than recycled, since
			// the node goroutine may still be writing to it after the
			// deadline.
		} else {
			entry.state = stateDone
			if outBuf != nil && entry.OutputPool != nil {
				entry.OutputPool.Publish(outBuf.ID)
				entry.lastBufferID = outBuf.ID
				entry.hasLastBuffer = true
			}
			if entry.HasProducer {
				d.mu.Lock()
				producer, ok := d.entries[entry.ProducerID]
				d.mu.Unlock()
				if ok && producer.OutputPool != nil {
					producer.mu.Lock()
					bufID := producer.lastBufferID
					hasBuf := producer.hasLastBuffer
					producer.mu.Unlock()
					if hasBuf {
						producer.OutputPool.Release(bufID)
					}
				}
			}
		}
		entry.mu.Unlock()
	}

	d.clockPosition.Add(uint64(d.cycleDuration / time.Nanosecond))
	d.xrunSinceLast.Store(cycleXruns)
	d.cycleCount.Add(1)
	if d.observer != nil {
		d.observer.ObserveCycle(uint64(time.Since(cycleStart)), cycleXruns == 0)
	}

	d.sleepUntilNext(cycleStart)
}

// sleepUntilNext blocks until the next cycle boundary, or returns
// immediately if this cycle already overran its period.
func (d *Driver) sleepUntilNext(cycleStart time.Time) {
	next := cycleStart.Add(d.cycleDuration)
	if remaining := time.Until(next); remaining > 0 {
		time.Sleep(remaining)
	}
}

// applyCommand applies one queued command to its target node: the
// node's own Lifecycle transition (Process start/stop), and in lockstep
// the node's ports through the matching internal/port state, the pairing
// spec.md §4.5 step 5 describes as a single command object dispatched to
// both. A node missing from the graph, or not implementing Lifecycle, is
// skipped rather than treated as an error, since a command already
// queued for a node removed mid-cycle is simply stale.
func (d *Driver) applyCommand(c Command) {
	d.mu.Lock()
	entry, ok := d.entries[c.NodeID]
	d.mu.Unlock()

	if ok {
		if lc := entry.Lifecycle(); lc != nil {
			var err error
			switch c.Op {
			case CmdPause:
				err = lc.Pause()
			case CmdStart:
				err = lc.Start()
			case CmdSuspend:
				err = lc.Suspend()
			}
			if err != nil && d.logger != nil {
				d.logger.Printf("scheduler: node %d lifecycle command %d failed: %v", c.NodeID, c.Op, err)
			}
		}
	}

	if d.g == nil {
		return
	}
	var portCmd graph.PortCommand
	switch c.Op {
	case CmdPause:
		portCmd = graph.PortCommandPause
	case CmdStart:
		portCmd = graph.PortCommandStart
	case CmdSuspend:
		portCmd = graph.PortCommandSuspend
	}
	if err := d.g.ApplyNodeCommand(c.NodeID, portCmd); err != nil && d.logger != nil {
		d.logger.Printf("scheduler: node %d port command %d failed: %v", c.NodeID, c.Op, err)
	}
}

// nodeLoop runs on its own goroutine for the lifetime of the node: it
// blocks waiting to be woken for the next cycle, runs Process, and
// signals completion, exactly mirroring the driver's FETCH_REQ/
// COMMIT_AND_FETCH_REQ wait-then-signal pattern from the node's side.
func (d *Driver) nodeLoop(entry *NodeEntry) {
	defer d.wg.Done()
	var zero time.Time
	for {
		if err := entry.wake.Wait(zero); err != nil {
			return
		}
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		entry.mu.Lock()
		io := entry.pendingIO
		entry.mu.Unlock()
		if io == nil {
			io = &interfaces.ProcessIO{}
		}
		err := entry.Node.Process(d.ctx, io)

		entry.mu.Lock()
		entry.lastErr = err
		entry.mu.Unlock()

		if err != nil && d.logger != nil {
			d.logger.Printf("scheduler: node %d Process error: %v", entry.ID, err)
		}

		if sigErr := entry.done.Signal(); sigErr != nil {
			return
		}
	}
}
