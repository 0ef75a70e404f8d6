// Package api assembles the HTTP router shared by send and receive
// processes: health/ready/live plus whichever direction's routes the
// running process registers, wrapped in logging, recovery, and tracing
// middleware.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/kenneth/wiredrop/internal/metrics"
	"github.com/kenneth/wiredrop/internal/middleware"
	"github.com/sirupsen/logrus"
)

// RouteRegistrar is implemented by internal/send.Handler and
// internal/receive.Handler: each attaches its own direction's routes to
// the shared router.
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

// ReadyCheck reports whether this process can currently serve traffic —
// source files readable (send) or destination directory writable
// (receive).
type ReadyCheck func(context.Context) error

// NewRouter builds the public-facing router: health/ready/live, the
// directional handler's routes, and the shared middleware stack.
func NewRouter(direction RouteRegistrar, readyCheck ReadyCheck, logger *logrus.Logger, m *metrics.Metrics, tracerName string) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", wrapHealth(metrics.HealthHandler(), m)).Methods(http.MethodGet)
	r.HandleFunc("/ready", wrapHealth(metrics.ReadinessHandler(readyCheck), m)).Methods(http.MethodGet)
	r.HandleFunc("/live", wrapHealth(metrics.LivenessHandler(), m)).Methods(http.MethodGet)

	direction.RegisterRoutes(r)

	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.TracingMiddleware(tracerName))
	r.Use(middleware.LoggingMiddleware(logger))

	return r
}

// NewMetricsRouter builds the loopback-only /metrics router, bound to a
// separate listener per spec.md §6/SPEC_FULL.md §7 — never exposed on the
// public transfer port.
func NewMetricsRouter(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func wrapHealth(h http.HandlerFunc, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(start), 0)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
