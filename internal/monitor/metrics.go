package monitor

import (
	"math"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const defaultWindow = 1000

// SystemMetrics counts session activity and keeps latency windows for
// correlated requests and order submissions.
type SystemMetrics struct {
	RequestLatency *LatencyHistogram // chart and balance request round trip
	OrderLatency   *LatencyHistogram // order submission round trip

	ticks       atomic.Uint64
	signals     atomic.Uint64
	orders      atomic.Uint64
	rejections  atomic.Uint64
	timeouts    atomic.Uint64
	dataQuality atomic.Uint64
	errors      atomic.Uint64

	startedAt time.Time
}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		RequestLatency: NewLatencyHistogram(defaultWindow),
		OrderLatency:   NewLatencyHistogram(defaultWindow),
		startedAt:      time.Now(),
	}
}

// LatencyHistogram keeps the most recent samples in a ring.
type LatencyHistogram struct {
	mu    sync.Mutex
	ring  []float64
	next  int
	full  bool
	stats *LatencyStats // cached until the next Record
}

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = defaultWindow
	}
	return &LatencyHistogram{ring: make([]float64, size)}
}

// Record adds a sample in milliseconds, evicting the oldest when full.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	h.ring[h.next] = ms
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.full = true
	}
	h.stats = nil
	h.mu.Unlock()
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d) / float64(time.Millisecond))
}

// Stats summarizes the current window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stats != nil {
		return *h.stats
	}

	n := h.next
	if h.full {
		n = len(h.ring)
	}
	if n == 0 {
		return LatencyStats{}
	}
	sorted := slices.Clone(h.ring[:n])
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	st := LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
		Count: n,
	}
	h.stats = &st
	return st
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementTicks()       { m.ticks.Add(1) }
func (m *SystemMetrics) IncrementSignals()     { m.signals.Add(1) }
func (m *SystemMetrics) IncrementOrders()      { m.orders.Add(1) }
func (m *SystemMetrics) IncrementRejections()  { m.rejections.Add(1) }
func (m *SystemMetrics) IncrementTimeouts()    { m.timeouts.Add(1) }
func (m *SystemMetrics) IncrementDataQuality() { m.dataQuality.Add(1) }
func (m *SystemMetrics) IncrementErrors()      { m.errors.Add(1) }

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	RequestLatency   LatencyStats `json:"request_latency"`
	OrderLatency     LatencyStats `json:"order_latency"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	SignalsGenerated uint64       `json:"signals_generated"`
	OrdersSubmitted  uint64       `json:"orders_submitted"`
	OrdersRejected   uint64       `json:"orders_rejected"`
	RequestTimeouts  uint64       `json:"request_timeouts"`
	DataQuality      uint64       `json:"data_quality_events"`
	ErrorsCount      uint64       `json:"errors_count"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	Uptime           string       `json:"uptime"`
	Timestamp        time.Time    `json:"timestamp"`
}

func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return MetricsSnapshot{
		RequestLatency:   m.RequestLatency.Stats(),
		OrderLatency:     m.OrderLatency.Stats(),
		TicksProcessed:   m.ticks.Load(),
		SignalsGenerated: m.signals.Load(),
		OrdersSubmitted:  m.orders.Load(),
		OrdersRejected:   m.rejections.Load(),
		RequestTimeouts:  m.timeouts.Load(),
		DataQuality:      m.dataQuality.Load(),
		ErrorsCount:      m.errors.Load(),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        mem.HeapAlloc,
		Uptime:           time.Since(m.startedAt).Truncate(time.Second).String(),
		Timestamp:        time.Now(),
	}
}
