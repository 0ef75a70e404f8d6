package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordChunkSentAndReceivedIncrementSeparateCounters(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordChunkSent()
	m.RecordChunkSent()
	m.RecordChunkReceived()

	if got := counterValue(t, m.chunksSentTotal); got != 2 {
		t.Fatalf("chunksSentTotal = %v, want 2", got)
	}
	if got := counterValue(t, m.chunksReceivedTotal); got != 1 {
		t.Fatalf("chunksReceivedTotal = %v, want 1", got)
	}
}

func TestRecordChunkDedupHit(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordChunkDedupHit()
	if got := counterValue(t, m.chunkDedupHitsTotal); got != 1 {
		t.Fatalf("chunkDedupHitsTotal = %v, want 1", got)
	}
}

func TestRecordChunkErrorIncrementsCounter(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordChunkError("receive", "auth_failed")
	if got := counterValue(t, m.chunkErrorsTotal.WithLabelValues("receive", "auth_failed")); got != 1 {
		t.Fatalf("chunkErrorsTotal = %v, want 1", got)
	}
}

func TestRecordEncryptionOperationAndError(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordEncryptionOperation(context.Background(), "encrypt", time.Millisecond)
	m.RecordEncryptionError("decrypt", "auth_failed")

	if got := counterValue(t, m.encryptionOperationsTotal.WithLabelValues("encrypt")); got != 1 {
		t.Fatalf("encryptionOperationsTotal = %v, want 1", got)
	}
	if got := counterValue(t, m.encryptionErrorsTotal.WithLabelValues("decrypt", "auth_failed")); got != 1 {
		t.Fatalf("encryptionErrorsTotal = %v, want 1", got)
	}
}

func TestBufferPoolHitMissCounters(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordBufferPoolHit()
	m.RecordBufferPoolHit()
	m.RecordBufferPoolMiss()

	if got := counterValue(t, m.bufferPoolHits); got != 2 {
		t.Fatalf("bufferPoolHits = %v, want 2", got)
	}
	if got := counterValue(t, m.bufferPoolMisses); got != 1 {
		t.Fatalf("bufferPoolMisses = %v, want 1", got)
	}
}

func TestSanitizePathLabelCollapsesHighCardinalitySegments(t *testing.T) {
	cases := map[string]string{
		"/health":                            "/health",
		"/send/tok123/0/chunk/42":            "/send/*",
		"/receive/tok123/manifest":           "/receive/*",
		"/send/tok123/0/chunk/42?clientId=x": "/send/*",
		"/":                                  "/",
	}
	for in, want := range cases {
		if got := sanitizePathLabel(in); got != want {
			t.Errorf("sanitizePathLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetHardwareAccelerationStatus(t *testing.T) {
	m := newTestMetrics(t)
	m.SetHardwareAccelerationStatus("aes-ni", true)

	var out dto.Metric
	if err := m.hardwareAccelerationEnabled.WithLabelValues("aes-ni").Write(&out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.GetGauge().GetValue() != 1.0 {
		t.Fatalf("hardwareAccelerationEnabled = %v, want 1.0", out.GetGauge().GetValue())
	}
}

func TestActiveConnectionsIncrementDecrement(t *testing.T) {
	m := newTestMetrics(t)
	m.IncrementActiveConnections()
	m.IncrementActiveConnections()
	m.DecrementActiveConnections()

	var out dto.Metric
	if err := m.activeConnections.Write(&out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.GetGauge().GetValue() != 1.0 {
		t.Fatalf("activeConnections = %v, want 1.0", out.GetGauge().GetValue())
	}
}
