package mediagraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecordCycle(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	require.Equal(t, uint64(0), snap.TotalCycles)

	m.RecordCycle(1_000_000, true)  // 1ms, ok
	m.RecordCycle(2_000_000, true)  // 2ms, ok
	m.RecordCycle(500_000, false)   // 0.5ms, xrun

	snap = m.Snapshot()
	require.Equal(t, uint64(2), snap.CyclesOK)
	require.Equal(t, uint64(1), snap.CyclesXRun)
	require.Equal(t, uint64(3), snap.TotalCycles)

	expectedXRunRate := float64(1) / float64(3) * 100.0
	require.InDelta(t, expectedXRunRate, snap.XRunRate, 0.1)
}

func TestMetricsXRunCount(t *testing.T) {
	m := NewMetrics()

	m.RecordXRun()
	m.RecordXRun()

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.XRunCount)
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()
	require.Equal(t, uint32(20), snap.MaxQueueDepth)

	expectedAvg := float64(10+20+15) / 3.0
	require.InDelta(t, expectedAvg, snap.AvgQueueDepth, 0.1)
}

func TestMetricsAvgCycleLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordCycle(1_000_000, true)
	m.RecordCycle(2_000_000, true)

	snap := m.Snapshot()
	require.Equal(t, uint64(1_500_000), snap.AvgCycleLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	require.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	require.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordCycle(1_000_000, true)
	m.RecordQueueDepth(10)

	snap := m.Snapshot()
	require.NotZero(t, snap.TotalCycles)

	m.Reset()

	snap = m.Snapshot()
	require.Zero(t, snap.TotalCycles)
	require.Zero(t, snap.MaxQueueDepth)
}

func TestMetricsObserverForwardsToMetrics(t *testing.T) {
	m := NewMetrics()
	observer := NewMetricsObserver(m)

	observer.ObserveCycle(1_000_000, true)
	observer.ObserveCycle(2_000_000, false)
	observer.ObserveXRun()
	observer.ObserveQueueDepth(5)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.CyclesOK)
	require.Equal(t, uint64(1), snap.CyclesXRun)
	require.Equal(t, uint64(1), snap.XRunCount)
	require.Equal(t, uint32(5), snap.MaxQueueDepth)
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordCycle(500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordCycle(5_000_000, true) // 5ms
	}
	m.RecordCycle(50_000_000, true) // 50ms, P99

	snap := m.Snapshot()
	require.Equal(t, uint64(100), snap.TotalCycles)

	require.GreaterOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	require.LessOrEqual(t, snap.LatencyP50Ns, uint64(1_000_000))

	require.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
	require.LessOrEqual(t, snap.LatencyP99Ns, uint64(100_000_000))

	var totalInBuckets uint64
	for _, c := range snap.LatencyHistogram {
		totalInBuckets += c
	}
	require.NotZero(t, totalInBuckets)
}
