package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability counters shared between
// the engine thread and external readers. Uses atomic operations for
// thread-safety.
type Metrics struct {
	// Counters
	dataProcessed atomic.Uint64
	ordersFilled  atomic.Uint64
	ordersDenied  atomic.Uint64
	errorsTotal   atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	feedConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordData records one processed data point with its latency.
func (m *Metrics) RecordData(latencyNs int64) {
	m.dataProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderDenied records an order stopped by the risk engine.
func (m *Metrics) RecordOrderDenied() {
	m.ordersDenied.Add(1)
}

// IncrementConnections increments active feed connections by 1.
func (m *Metrics) IncrementConnections() {
	m.feedConnections.Add(1)
}

// DecrementConnections decrements active feed connections by 1.
func (m *Metrics) DecrementConnections() {
	m.feedConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	DataProcessed   uint64
	OrdersFilled    uint64
	OrdersDenied    uint64
	ErrorsTotal     uint64
	AvgLatencyNs    int64
	FeedConnections int32
	Timestamp       time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		DataProcessed:   m.dataProcessed.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersDenied:    m.ordersDenied.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		AvgLatencyNs:    avgLatency,
		FeedConnections: m.feedConnections.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.dataProcessed.Store(0)
	m.ordersFilled.Store(0)
	m.ordersDenied.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.feedConnections.Store(0)
}
