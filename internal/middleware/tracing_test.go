package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTracingMiddlewareAttachesRequestID(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	wrapped := TracingMiddleware("wiredrop-test")(handler)
	req := httptest.NewRequest("GET", "/send/tok/manifest", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if seen == "" {
		t.Fatalf("expected a non-empty request id in context")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRequestIDFromContextEmptyWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Fatalf("RequestIDFromContext = %q, want empty", got)
	}
}
