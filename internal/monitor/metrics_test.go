package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	assert.Equal(t, LatencyStats{}, h.Stats())

	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}
	s := h.Stats()
	assert.Equal(t, 100, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.InDelta(t, 50.5, s.Avg, 1e-9)
	assert.Equal(t, 51.0, s.P50)
	assert.Equal(t, 96.0, s.P95)
	assert.Equal(t, 100.0, s.P99)
}

func TestLatencyHistogramSlides(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{10, 20, 30, 40} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 20.0, s.Min)
	assert.Equal(t, 40.0, s.Max)

	h.RecordDuration(5 * time.Millisecond)
	assert.Equal(t, 5.0, h.Stats().Min)
}

func TestMetricsSnapshotCounters(t *testing.T) {
	m := NewMetrics()
	m.IncFrames()
	m.IncFrames()
	m.IncDecodeErrors()
	m.IncSubmitted()
	m.IncCanceled()
	m.IncAcks()
	m.IncFills()
	m.IncRejects()
	m.IncDroppedWrites()
	m.AckLatency.Record(2)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.FramesReceived)
	assert.Equal(t, uint64(1), s.DecodeErrors)
	assert.Equal(t, uint64(1), s.OrdersSubmitted)
	assert.Equal(t, uint64(1), s.OrdersCanceled)
	assert.Equal(t, uint64(1), s.Acks)
	assert.Equal(t, uint64(1), s.Fills)
	assert.Equal(t, uint64(1), s.Rejects)
	assert.Equal(t, uint64(1), s.DroppedWrites)
	assert.Equal(t, 1, s.AckLatency.Count)
	assert.Positive(t, s.GoroutineCount)
}
