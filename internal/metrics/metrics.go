package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Config holds metrics configuration.
type Config struct {
	Enabled   bool
	BindAddr  string
}

// Metrics holds every series one send or receive process emits. Each
// session registers against its own private registry (NewMetricsWithRegistry)
// so concurrent tests, and concurrent sessions within one process, don't
// collide on series names.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestBytes    *prometheus.CounterVec

	chunksSentTotal     prometheus.Counter
	chunksReceivedTotal prometheus.Counter
	chunkDedupHitsTotal prometheus.Counter
	chunkErrorsTotal    *prometheus.CounterVec

	encryptionOperationsTotal *prometheus.CounterVec
	encryptionDuration        *prometheus.HistogramVec
	encryptionErrorsTotal     *prometheus.CounterVec

	bufferPoolHits   prometheus.Counter
	bufferPoolMisses prometheus.Counter

	activeConnections prometheus.Gauge
	goroutines        prometheus.Gauge
	memoryAllocBytes  prometheus.Gauge
	memorySysBytes    prometheus.Gauge

	hardwareAccelerationEnabled *prometheus.GaugeVec
	transferProgressPercent    prometheus.Gauge
}

// NewMetrics creates a metrics instance registered against the process-wide
// default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// NewMetricsWithRegistry creates a metrics instance bound to a private
// registry, so multiple sessions (or tests) never collide on series names.
// This is the constructor a running send/receive process uses, per
// SPEC_FULL.md §6.1 — one registry per session, never the global default.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetricsWithRegistry(reg)
}

func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	registry, _ := reg.(*prometheus.Registry)
	m := &Metrics{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_bytes_total",
				Help: "Total bytes transferred in HTTP request/response bodies",
			},
			[]string{"method", "path"},
		),
		chunksSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_sent_total",
				Help: "Total number of chunks served by the send side",
			},
		),
		chunksReceivedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_received_total",
				Help: "Total number of chunks accepted by the receive side",
			},
		),
		chunkDedupHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chunk_dedup_hits_total",
				Help: "Total number of chunk requests that were retries of an already-recorded chunk",
			},
		),
		chunkErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunk_errors_total",
				Help: "Total number of chunk processing errors",
			},
			[]string{"direction", "error_type"},
		),
		encryptionOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "encryption_operations_total",
				Help: "Total number of AEAD encrypt/decrypt operations",
			},
			[]string{"operation"},
		),
		encryptionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "encryption_duration_seconds",
				Help:    "AEAD encrypt/decrypt duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"operation"},
		),
		encryptionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "encryption_errors_total",
				Help: "Total number of AEAD encrypt/decrypt failures",
			},
			[]string{"operation", "reason"},
		),
		bufferPoolHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "buffer_pool_hits_total",
				Help: "Total number of buffer pool take() calls served from the free list",
			},
		),
		bufferPoolMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "buffer_pool_misses_total",
				Help: "Total number of buffer pool take() calls that allocated",
			},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of active HTTP connections",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
		hardwareAccelerationEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hardware_acceleration_enabled",
				Help: "Hardware acceleration status (1=enabled, 0=disabled)",
			},
			[]string{"type"},
		),
		transferProgressPercent: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "transfer_progress_percent",
				Help: "Aggregate transfer progress, 0-100",
			},
		),
	}
	m.registry = registry
	return m
}

// SetHardwareAccelerationStatus records whether accelType is in use for
// this session's cipher.
func (m *Metrics) SetHardwareAccelerationStatus(accelType string, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.hardwareAccelerationEnabled.WithLabelValues(accelType).Set(val)
}

// RecordHTTPRequest records an HTTP request metric, attaching an exemplar
// from ctx's trace span when one is present.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, bytes int64) {
	label := sanitizePathLabel(path)
	labels := prometheus.Labels{"method": method, "path": label, "status": http.StatusText(status)}

	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.httpRequestsTotal.With(labels).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.httpRequestsTotal.With(labels).Inc()
		}
		if observer, ok := m.httpRequestDuration.With(labels).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.httpRequestDuration.With(labels).Observe(duration.Seconds())
		}
	} else {
		m.httpRequestsTotal.With(labels).Inc()
		m.httpRequestDuration.With(labels).Observe(duration.Seconds())
	}

	m.httpRequestBytes.WithLabelValues(method, label).Add(float64(bytes))
}

// sanitizePathLabel reduces high-cardinality chunk paths
// (/send/{token}/{file}/chunk/{n}) to a stable label.
func sanitizePathLabel(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) <= 1 {
		return "/" + segs[0]
	}
	return "/" + segs[0] + "/*"
}

// RecordChunkSent and RecordChunkReceived count one successfully served or
// accepted chunk, counted after dedup so retries don't inflate the total.
func (m *Metrics) RecordChunkSent()     { m.chunksSentTotal.Inc() }
func (m *Metrics) RecordChunkReceived() { m.chunksReceivedTotal.Inc() }

// RecordChunkDedupHit counts a chunk request that was a retry of an
// already-recorded (file, chunk) pair.
func (m *Metrics) RecordChunkDedupHit() { m.chunkDedupHitsTotal.Inc() }

// RecordChunkError records a chunk processing failure (auth failure,
// out-of-range index, storage error).
func (m *Metrics) RecordChunkError(direction, errorType string) {
	m.chunkErrorsTotal.WithLabelValues(direction, errorType).Inc()
}

// RecordEncryptionOperation records one AEAD encrypt or decrypt call.
// operation is "encrypt" or "decrypt".
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, duration time.Duration) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if observer, ok := m.encryptionDuration.WithLabelValues(operation).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
			m.encryptionOperationsTotal.WithLabelValues(operation).Inc()
			return
		}
	}
	m.encryptionOperationsTotal.WithLabelValues(operation).Inc()
	m.encryptionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEncryptionError records an AEAD failure, almost always an
// authentication failure on the receive side.
func (m *Metrics) RecordEncryptionError(operation, reason string) {
	m.encryptionErrorsTotal.WithLabelValues(operation, reason).Inc()
}

// RecordBufferPoolHit and RecordBufferPoolMiss track Take() outcomes for
// the session's buffer pool.
func (m *Metrics) RecordBufferPoolHit()  { m.bufferPoolHits.Inc() }
func (m *Metrics) RecordBufferPoolMiss() { m.bufferPoolMisses.Inc() }

// SetTransferProgress publishes the current aggregate progress percentage.
func (m *Metrics) SetTransferProgress(percent float64) {
	m.transferProgressPercent.Set(percent)
}

// UpdateSystemMetrics refreshes goroutine count and memory gauges.
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// IncrementActiveConnections and DecrementActiveConnections track the
// number of open HTTP connections.
func (m *Metrics) IncrementActiveConnections() { m.activeConnections.Inc() }
func (m *Metrics) DecrementActiveConnections() { m.activeConnections.Dec() }

// StartSystemMetricsCollector starts a goroutine that periodically updates
// system metrics until ctx is cancelled.
func (m *Metrics) StartSystemMetricsCollector(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
			}
		}
	}()
}

// Handler returns the HTTP handler that serves /metrics. Callers bind this
// to a loopback-only listener separate from the public transfer port.
func (m *Metrics) Handler() http.Handler {
	if m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// getExemplar extracts the trace ID from ctx, if any, for exemplar attachment.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
