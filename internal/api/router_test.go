package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/kenneth/wiredrop/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type noopRegistrar struct{}

func (noopRegistrar) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/noop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRouterHealthReturnsBareOK(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	r := NewRouter(noopRegistrar{}, nil, newTestLogger(), m, "wiredrop-test")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("body = %q, want OK", rec.Body.String())
	}
}

func TestRouterReadyReflectsCheckFailure(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	check := func(context.Context) error { return errors.New("not ready") }
	r := NewRouter(noopRegistrar{}, check, newTestLogger(), m, "wiredrop-test")

	req := httptest.NewRequest("GET", "/ready", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRouterDelegatesDirectionRoutes(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	r := NewRouter(noopRegistrar{}, nil, newTestLogger(), m, "wiredrop-test")

	req := httptest.NewRequest("GET", "/noop", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	registrar := panicRegistrar{}
	r := NewRouter(registrar, nil, newTestLogger(), m, "wiredrop-test")

	req := httptest.NewRequest("GET", "/panic", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

type panicRegistrar struct{}

func (panicRegistrar) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
}

func TestMetricsRouterServesMetricsEndpoint(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	h := NewMetricsRouter(m)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
