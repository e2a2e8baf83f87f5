package mediagraph

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing, the range a realtime
// cycle's processing latency or an xrun's overrun duration falls into.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks a running graph's realtime performance: cycle counts,
// xruns, per-node processing latency, and buffer queue depth, repurposing
// the teacher's atomic-counter/histogram shape from per-I/O-op accounting
// to per-cycle accounting.
type Metrics struct {
	CyclesOK    atomic.Uint64
	CyclesXRun  atomic.Uint64
	XRunCount   atomic.Uint64

	TotalCycleLatencyNs atomic.Uint64
	CycleCount          atomic.Uint64

	// Latency histogram buckets (cumulative): bucket[i] counts cycles
	// whose processing latency was <= LatencyBuckets[i].
	LatencyHistogram [numLatencyBuckets]atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCycle records one scheduler cycle's outcome and latency.
func (m *Metrics) RecordCycle(latencyNs uint64, success bool) {
	if success {
		m.CyclesOK.Add(1)
	} else {
		m.CyclesXRun.Add(1)
	}
	m.TotalCycleLatencyNs.Add(latencyNs)
	m.CycleCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistogram[i].Add(1)
		}
	}
}

// RecordXRun records a deadline miss independent of RecordCycle, since a
// single cycle can overrun on more than one node.
func (m *Metrics) RecordXRun() {
	m.XRunCount.Add(1)
}

// RecordLatency records a single node's per-cycle processing latency,
// independent of the cycle-wide RecordCycle call.
func (m *Metrics) RecordLatency(latencyNs uint64) {
	m.TotalCycleLatencyNs.Add(latencyNs)
}

// RecordQueueDepth records a buffer pool's current queue depth.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// Stop marks the graph as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	CyclesOK   uint64
	CyclesXRun uint64
	XRunCount  uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgCycleLatencyNs uint64
	UptimeNs          uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalCycles uint64
	XRunRate    float64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CyclesOK:      m.CyclesOK.Load(),
		CyclesXRun:    m.CyclesXRun.Load(),
		XRunCount:     m.XRunCount.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}

	snap.TotalCycles = snap.CyclesOK + snap.CyclesXRun

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalCycleLatencyNs.Load()
	cycleCount := m.CycleCount.Load()
	if cycleCount > 0 {
		snap.AvgCycleLatencyNs = totalLatencyNs / cycleCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.TotalCycles > 0 {
		snap.XRunRate = float64(snap.CyclesXRun) / float64(snap.TotalCycles) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistogram[i].Load()
	}

	if cycleCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalCycles := m.CycleCount.Load()
	if totalCycles == 0 {
		return 0
	}

	targetCount := uint64(float64(totalCycles) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHistogram[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHistogram[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.CyclesOK.Store(0)
	m.CyclesXRun.Store(0)
	m.XRunCount.Store(0)
	m.TotalCycleLatencyNs.Store(0)
	m.CycleCount.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHistogram[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver implements internal/interfaces.Observer by recording
// into a Metrics, the same recorder-behind-an-interface split the teacher
// keeps between its Observer interface and MetricsObserver.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCycle(durationNs uint64, success bool) {
	o.metrics.RecordCycle(durationNs, success)
}

func (o *MetricsObserver) ObserveXRun() {
	o.metrics.RecordXRun()
}

func (o *MetricsObserver) ObserveLatency(nodeID uint32, latencyNs uint64) {
	o.metrics.RecordLatency(latencyNs)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}
