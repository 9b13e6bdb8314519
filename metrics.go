package unipro

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fparent/unipro-tx-dma/internal/xfer"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering the span from a descriptor's first DMA submission to its
// completion, from 1us to 10s with logarithmic spacing.
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

// Metrics tracks the engine's operational statistics.
type Metrics struct {
	DescriptorsAccepted  atomic.Uint64
	DescriptorsCompleted atomic.Uint64
	DescriptorsCanceled  atomic.Uint64

	BytesTransferred atomic.Uint64
	ChunksSubmitted  atomic.Uint64 // ES2 chunked-transfer submissions
	ATABLRebinds     atomic.Uint64
	ResetsHandled    atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAccept records a descriptor entering the TX FIFO.
func (m *Metrics) RecordAccept() {
	m.DescriptorsAccepted.Add(1)
}

// RecordComplete records a descriptor's successful completion, along with
// its latency from first DMA submission to completion.
func (m *Metrics) RecordComplete(bytes uint64, latencyNs uint64) {
	m.DescriptorsCompleted.Add(1)
	m.BytesTransferred.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordCancel records a descriptor canceled by a CPort reset.
func (m *Metrics) RecordCancel() {
	m.DescriptorsCanceled.Add(1)
}

// RecordChunk records one ES2 chunked-transfer submission.
func (m *Metrics) RecordChunk(bytes uint64) {
	m.ChunksSubmitted.Add(1)
}

// RecordATABLRebind records one ATABL connect/disconnect rebind.
func (m *Metrics) RecordATABLRebind() {
	m.ATABLRebinds.Add(1)
}

// RecordReset records one CPort reset flush.
func (m *Metrics) RecordReset() {
	m.ResetsHandled.Add(1)
}

// RecordQueueDepth records a point-in-time total queued-descriptor count.
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

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the engine as stopped, fixing the uptime used for rate
// calculations in Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics with derived
// rates computed.
type MetricsSnapshot struct {
	DescriptorsAccepted  uint64
	DescriptorsCompleted uint64
	DescriptorsCanceled  uint64

	BytesTransferred uint64
	ChunksSubmitted  uint64
	ATABLRebinds     uint64
	ResetsHandled    uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	CompletionRate float64 // completed descriptors per second
	Bandwidth      float64 // bytes per second
	CancelRate     float64 // percentage of accepted descriptors canceled
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		DescriptorsAccepted:  m.DescriptorsAccepted.Load(),
		DescriptorsCompleted: m.DescriptorsCompleted.Load(),
		DescriptorsCanceled:  m.DescriptorsCanceled.Load(),
		BytesTransferred:     m.BytesTransferred.Load(),
		ChunksSubmitted:      m.ChunksSubmitted.Load(),
		ATABLRebinds:         m.ATABLRebinds.Load(),
		ResetsHandled:        m.ResetsHandled.Load(),
		MaxQueueDepth:        m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.CompletionRate = float64(snap.DescriptorsCompleted) / uptimeSeconds
		snap.Bandwidth = float64(snap.BytesTransferred) / uptimeSeconds
	}

	if snap.DescriptorsAccepted > 0 {
		snap.CancelRate = float64(snap.DescriptorsCanceled) / float64(snap.DescriptorsAccepted) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
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

// Reset zeroes every counter, useful for testing.
func (m *Metrics) Reset() {
	m.DescriptorsAccepted.Store(0)
	m.DescriptorsCompleted.Store(0)
	m.DescriptorsCanceled.Store(0)
	m.BytesTransferred.Store(0)
	m.ChunksSubmitted.Store(0)
	m.ATABLRebinds.Store(0)
	m.ResetsHandled.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of internal/xfer's Observer,
// usable when a caller wants no metrics collection at all.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(uint32, int)      {}
func (NoOpObserver) ObserveChunk(uint32, int)        {}
func (NoOpObserver) ObserveComplete(uint32, int, int) {}
func (NoOpObserver) ObserveCancel(uint32, int)       {}
func (NoOpObserver) ObserveATABLRebind(uint32)       {}

// MetricsObserver implements internal/xfer's Observer using the built-in
// Metrics, the same Observer/Metrics split the teacher uses.
type MetricsObserver struct {
	metrics       *Metrics
	submitStarted sync.Map // cportid -> time.Time of most recent Submit, for latency
}

// NewMetricsObserver creates an observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(cportid uint32, bytes int) {
	o.submitStarted.Store(cportid, time.Now())
}

func (o *MetricsObserver) ObserveChunk(cportid uint32, bytes int) {
	o.metrics.RecordChunk(uint64(bytes))
}

func (o *MetricsObserver) ObserveComplete(cportid uint32, bytes int, status int) {
	latency := uint64(0)
	if v, ok := o.submitStarted.LoadAndDelete(cportid); ok {
		latency = uint64(time.Since(v.(time.Time)))
	}
	o.metrics.RecordComplete(uint64(bytes), latency)
}

func (o *MetricsObserver) ObserveCancel(cportid uint32, status int) {
	o.metrics.RecordCancel()
}

func (o *MetricsObserver) ObserveATABLRebind(cportid uint32) {
	o.metrics.RecordATABLRebind()
}

var _ xfer.Observer = (*MetricsObserver)(nil)
var _ xfer.Observer = (*NoOpObserver)(nil)
