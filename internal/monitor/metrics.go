package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks pipeline counters and order acknowledgement latency.
type Metrics struct {
	// AckLatency holds submit-to-first-ack samples in milliseconds.
	AckLatency *LatencyHistogram

	framesReceived  atomic.Uint64
	decodeErrors    atomic.Uint64
	ordersSubmitted atomic.Uint64
	ordersCanceled  atomic.Uint64
	acks            atomic.Uint64
	fills           atomic.Uint64
	rejects         atomic.Uint64
	riskRejections  atomic.Uint64
	droppedWrites   atomic.Uint64

	started time.Time
}

// NewMetrics creates a metrics instance with a 1000-sample latency window.
func NewMetrics() *Metrics {
	return &Metrics{
		AckLatency: NewLatencyHistogram(1000),
		started:    time.Now(),
	}
}

func (m *Metrics) IncFrames() { m.framesReceived.Add(1) }
func (m *Metrics) IncDecodeErrors() { m.decodeErrors.Add(1) }
func (m *Metrics) IncSubmitted() { m.ordersSubmitted.Add(1) }
func (m *Metrics) IncCanceled() { m.ordersCanceled.Add(1) }
func (m *Metrics) IncAcks() { m.acks.Add(1) }
func (m *Metrics) IncFills() { m.fills.Add(1) }
func (m *Metrics) IncRejects() { m.rejects.Add(1) }
func (m *Metrics) IncRiskRejections() { m.riskRejections.Add(1) }
func (m *Metrics) IncDroppedWrites() { m.droppedWrites.Add(1) }

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	FramesReceived  uint64       `json:"frames_received"`
	DecodeErrors    uint64       `json:"decode_errors"`
	OrdersSubmitted uint64       `json:"orders_submitted"`
	OrdersCanceled  uint64       `json:"orders_canceled"`
	Acks            uint64       `json:"acks"`
	Fills           uint64       `json:"fills"`
	Rejects         uint64       `json:"rejects"`
	RiskRejections  uint64       `json:"risk_rejections"`
	DroppedWrites   uint64       `json:"dropped_writes"`
	AckLatency      LatencyStats `json:"ack_latency_ms"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Uptime          string       `json:"uptime"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Snapshot returns the current counters and latency statistics.
func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		FramesReceived:  m.framesReceived.Load(),
		DecodeErrors:    m.decodeErrors.Load(),
		OrdersSubmitted: m.ordersSubmitted.Load(),
		OrdersCanceled:  m.ordersCanceled.Load(),
		Acks:            m.acks.Load(),
		Fills:           m.fills.Load(),
		Rejects:         m.rejects.Load(),
		RiskRejections:  m.riskRejections.Load(),
		DroppedWrites:   m.droppedWrites.Load(),
		AckLatency:      m.AckLatency.Stats(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       mem.HeapAlloc,
		Uptime:          time.Since(m.started).Truncate(time.Second).String(),
		Timestamp:       time.Now(),
	}
}

// LatencyHistogram keeps the most recent samples in a ring and computes
// statistics lazily.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	dirty   bool
	cached  LatencyStats
}

// NewLatencyHistogram creates a sliding window of size samples.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, size), dirty: true}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = latencyMs
	h.next++
	if h.next == len(h.samples) {
		h.next = 0
		h.full = true
	}
	h.dirty = true
}

// RecordDuration converts d to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95 and p99 over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cached
	}
	n := h.next
	if h.full {
		n = len(h.samples)
	}
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples[:n])
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cached
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}
