package unipro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordComplete(t *testing.T) {
	m := NewMetrics()
	m.RecordAccept()
	m.RecordComplete(128, uint64(5*time.Millisecond))

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.DescriptorsAccepted)
	assert.EqualValues(t, 1, snap.DescriptorsCompleted)
	assert.EqualValues(t, 128, snap.BytesTransferred)
	assert.EqualValues(t, 5*time.Millisecond, snap.AvgLatencyNs)
}

func TestMetricsCancelRate(t *testing.T) {
	m := NewMetrics()
	m.RecordAccept()
	m.RecordAccept()
	m.RecordCancel()

	snap := m.Snapshot()
	assert.InDelta(t, 50.0, snap.CancelRate, 0.001)
}

func TestMetricsQueueDepthTracksMax(t *testing.T) {
	m := NewMetrics()
	m.RecordQueueDepth(3)
	m.RecordQueueDepth(9)
	m.RecordQueueDepth(2)

	snap := m.Snapshot()
	assert.EqualValues(t, 9, snap.MaxQueueDepth)
	assert.InDelta(t, (3.0+9.0+2.0)/3.0, snap.AvgQueueDepth, 0.001)
}

func TestMetricsResetZeroesCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordAccept()
	m.RecordComplete(64, 1000)
	m.Reset()

	snap := m.Snapshot()
	assert.Zero(t, snap.DescriptorsAccepted)
	assert.Zero(t, snap.DescriptorsCompleted)
	assert.Zero(t, snap.BytesTransferred)
}

func TestMetricsObserverRecordsThroughObserver(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveSubmit(1, 64)
	obs.ObserveComplete(1, 64, 0)
	obs.ObserveChunk(1, 32)
	obs.ObserveCancel(1, ECONNRESET)
	obs.ObserveATABLRebind(1)

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.DescriptorsCompleted)
	assert.EqualValues(t, 1, snap.ChunksSubmitted)
	assert.EqualValues(t, 1, snap.DescriptorsCanceled)
	assert.EqualValues(t, 1, snap.ATABLRebinds)
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var obs NoOpObserver
	obs.ObserveSubmit(1, 1)
	obs.ObserveChunk(1, 1)
	obs.ObserveComplete(1, 1, 0)
	obs.ObserveCancel(1, 0)
	obs.ObserveATABLRebind(1)
}
