package infra

import (
	"testing"
)

func TestMetrics_RecordData(t *testing.T) {
	m := &Metrics{}

	m.RecordData(1000)
	m.RecordData(2000)
	m.RecordData(3000)

	snap := m.Snapshot()

	if snap.DataProcessed != 3 {
		t.Errorf("Expected 3 data points, got %d", snap.DataProcessed)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Orders(t *testing.T) {
	m := &Metrics{}

	m.RecordOrderFilled()
	m.RecordOrderFilled()
	m.RecordOrderDenied()

	snap := m.Snapshot()
	if snap.OrdersFilled != 2 {
		t.Errorf("Expected 2 fills, got %d", snap.OrdersFilled)
	}
	if snap.OrdersDenied != 1 {
		t.Errorf("Expected 1 denial, got %d", snap.OrdersDenied)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.FeedConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.FeedConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.FeedConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.FeedConnections)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordData(1000)
	m.RecordError()
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.DataProcessed != 0 {
		t.Error("Expected 0 data points after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.FeedConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}
