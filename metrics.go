package scoppy

import (
	"sync/atomic"
	"time"

	"github.com/mars-low/scoppy-pico/internal/interfaces"
)

// LatencyBuckets defines the acquisition-cycle-duration histogram
// buckets in nanoseconds, covering 100us to 10s with logarithmic
// spacing — the same idiom the teacher used for I/O latency
// (metrics.go), retargeted at cycle duration since this module has no
// disk I/O to time.
var LatencyBuckets = []uint64{
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 6

// Metrics tracks acquisition-engine operational statistics (spec.md
// §9's note that this module owns no persistence, only counters).
type Metrics struct {
	AcquisitionCycles  atomic.Uint64
	TriggeredCycles    atomic.Uint64
	BytesEmitted       atomic.Uint64
	FramesSent         atomic.Uint64
	DiscardedSamples   atomic.Uint64
	Restarts           atomic.Uint64
	TriggerSearches    atomic.Uint64
	TriggerSearchHits  atomic.Uint64
	ChunksScannedTotal atomic.Uint64

	TotalCycleLatencyNs atomic.Uint64
	CycleCount          atomic.Uint64

	// CycleLatencyBuckets[i] counts cycles whose duration was <=
	// LatencyBuckets[i] (cumulative, like the teacher's histogram).
	CycleLatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAcquisitionCycle records one completed acquisition cycle.
func (m *Metrics) RecordAcquisitionCycle(d time.Duration, bytesEmitted int, triggered bool) {
	m.AcquisitionCycles.Add(1)
	if triggered {
		m.TriggeredCycles.Add(1)
	}
	m.BytesEmitted.Add(uint64(bytesEmitted))
	m.recordCycleLatency(uint64(d.Nanoseconds()))
}

// RecordDiscardedSamples records a count of samples dropped because a
// ring filled faster than it drained (spec.md §4.5).
func (m *Metrics) RecordDiscardedSamples(count uint32) {
	m.DiscardedSamples.Add(uint64(count))
}

// RecordRestart records one restart-barrier crossing.
func (m *Metrics) RecordRestart() {
	m.Restarts.Add(1)
}

// RecordFrameSent records one outgoing SAMPLES frame.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Add(1)
	_ = bytes
}

// RecordTriggerSearch records one trigger-search poll tick.
func (m *Metrics) RecordTriggerSearch(chunksScanned int, found bool) {
	m.TriggerSearches.Add(1)
	m.ChunksScannedTotal.Add(uint64(chunksScanned))
	if found {
		m.TriggerSearchHits.Add(1)
	}
}

func (m *Metrics) recordCycleLatency(latencyNs uint64) {
	m.TotalCycleLatencyNs.Add(latencyNs)
	m.CycleCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.CycleLatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the engine as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics' counters plus
// derived statistics.
type MetricsSnapshot struct {
	AcquisitionCycles uint64
	TriggeredCycles   uint64
	BytesEmitted      uint64
	FramesSent        uint64
	DiscardedSamples  uint64
	Restarts          uint64
	TriggerSearches   uint64
	TriggerSearchHits uint64

	AvgCycleLatencyNs uint64
	UptimeNs          uint64

	CycleLatencyP50Ns  uint64
	CycleLatencyP99Ns  uint64
	CycleLatencyHistogram [numLatencyBuckets]uint64

	TriggerHitRate float64
	CyclesPerSec   float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		AcquisitionCycles: m.AcquisitionCycles.Load(),
		TriggeredCycles:   m.TriggeredCycles.Load(),
		BytesEmitted:      m.BytesEmitted.Load(),
		FramesSent:        m.FramesSent.Load(),
		DiscardedSamples:  m.DiscardedSamples.Load(),
		Restarts:          m.Restarts.Load(),
		TriggerSearches:   m.TriggerSearches.Load(),
		TriggerSearchHits: m.TriggerSearchHits.Load(),
	}

	cycleCount := m.CycleCount.Load()
	if cycleCount > 0 {
		snap.AvgCycleLatencyNs = m.TotalCycleLatencyNs.Load() / cycleCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.CyclesPerSec = float64(snap.AcquisitionCycles) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.TriggerSearches > 0 {
		snap.TriggerHitRate = float64(snap.TriggerSearchHits) / float64(snap.TriggerSearches) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.CycleLatencyHistogram[i] = m.CycleLatencyBuckets[i].Load()
	}
	if cycleCount > 0 {
		snap.CycleLatencyP50Ns = m.calculatePercentile(0.50)
		snap.CycleLatencyP99Ns = m.calculatePercentile(0.99)
	}

	return snap
}

// calculatePercentile estimates the cycle-latency at the given
// percentile (0.0-1.0) using linear interpolation between histogram
// buckets — the teacher's I/O-latency estimator (metrics.go), applied
// to acquisition cycles instead.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalCycles := m.CycleCount.Load()
	if totalCycles == 0 {
		return 0
	}

	targetCount := uint64(float64(totalCycles) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.CycleLatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.CycleLatencyBuckets[i-1].Load()
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

// Reset zeroes all counters (useful for testing).
func (m *Metrics) Reset() {
	m.AcquisitionCycles.Store(0)
	m.TriggeredCycles.Store(0)
	m.BytesEmitted.Store(0)
	m.FramesSent.Store(0)
	m.DiscardedSamples.Store(0)
	m.Restarts.Store(0)
	m.TriggerSearches.Store(0)
	m.TriggerSearchHits.Store(0)
	m.ChunksScannedTotal.Store(0)
	m.TotalCycleLatencyNs.Store(0)
	m.CycleCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.CycleLatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer, used
// as the Core default when the caller supplies none.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAcquisitionCycle(time.Duration, int, bool) {}
func (NoOpObserver) ObserveDiscardedSamples(uint32)                   {}
func (NoOpObserver) ObserveRestart(string)                            {}
func (NoOpObserver) ObserveFrameSent(int)                             {}
func (NoOpObserver) ObserveTriggerSearch(int, bool)                   {}

// MetricsObserver implements interfaces.Observer using the built-in
// Metrics counters.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAcquisitionCycle(d time.Duration, bytesEmitted int, triggered bool) {
	o.metrics.RecordAcquisitionCycle(d, bytesEmitted, triggered)
}

func (o *MetricsObserver) ObserveDiscardedSamples(count uint32) {
	o.metrics.RecordDiscardedSamples(count)
}

func (o *MetricsObserver) ObserveRestart(reason string) {
	_ = reason
	o.metrics.RecordRestart()
}

func (o *MetricsObserver) ObserveFrameSent(bytes int) {
	o.metrics.RecordFrameSent(bytes)
}

func (o *MetricsObserver) ObserveTriggerSearch(chunksScanned int, found bool) {
	o.metrics.RecordTriggerSearch(chunksScanned, found)
}

// Compile-time interface checks.
var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (NoOpObserver{})
