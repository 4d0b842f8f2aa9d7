package trace

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestMiddlewareGeneratesAndEchoesRequestID(t *testing.T) {
	m := NewMiddleware(nil, nil)
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("response header %q does not match %q", rec.Header().Get(RequestIDHeader), seen)
	}
}

func TestMiddlewareHonorsIncomingRequestID(t *testing.T) {
	m := NewMiddleware(nil, nil)
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "client-123" {
		t.Fatalf("expected client id, got %q", seen)
	}

	req.Header.Set(RequestIDHeader, "bad id\n")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "bad id\n" {
		t.Fatalf("malformed ids must be replaced")
	}
}

func TestMiddlewareCountsStatusClasses(t *testing.T) {
	m := NewMiddleware(func(*http.Request) string { return "10.0.0.1" }, nil)
	codes := []int{http.StatusOK, http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError}
	for _, code := range codes {
		code := code
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	got := m.GetMetrics()
	if got.TotalRequests != 4 || got.Status2xx != 1 || got.Status4xx != 2 || got.Status5xx != 1 {
		t.Fatalf("unexpected metrics %+v", got)
	}
}
