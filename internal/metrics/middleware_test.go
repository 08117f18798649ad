package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := Middleware(handler)

	initial := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/uploads/init", "200"))

	req := httptest.NewRequest("POST", "/api/uploads/init", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	count := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/uploads/init", "200"))
	if count <= initial {
		t.Errorf("Expected count to increase from %f, got %f", initial, count)
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name           string
		handler        http.HandlerFunc
		expectedStatus string
	}{
		{
			name: "409 Conflict",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
			},
			expectedStatus: "409",
		},
		{
			name: "503 Service Unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			expectedStatus: "503",
		},
		{
			name: "Default status (no WriteHeader call)",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("OK"))
			},
			expectedStatus: "200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := HTTPRequestsTotal.WithLabelValues("GET", "/api/objects/:key", tt.expectedStatus)
			before := testutil.ToFloat64(counter)

			req := httptest.NewRequest("GET", "/api/objects/files/u1/123-abc.bin", nil)
			Middleware(tt.handler).ServeHTTP(httptest.NewRecorder(), req)

			if after := testutil.ToFloat64(counter); after != before+1 {
				t.Errorf("counter for status %s = %f, want %f", tt.expectedStatus, after, before+1)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/health", "/health"},
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/uploads/init", "/api/uploads/init"},
		{"/api/uploads/part-tokens", "/api/uploads/part-tokens"},
		{"/api/uploads/part", "/api/uploads/part"},
		{"/api/uploads/complete", "/api/uploads/complete"},
		{"/api/uploads/abort", "/api/uploads/abort"},
		{"/api/uploads/status/mock-upload-1", "/api/uploads/status/:id"},
		{"/api/uploads/status/abc/def", "/api/uploads/status/:id"},
		{"/api/objects", "/api/objects"},
		{"/api/objects/files/u1/1700000000000-ab12.bin", "/api/objects/:key"},
		{"/", "/other"},
		{"/some/random/path", "/other"},
	}

	for _, tt := range tests {
		if result := normalizePath(tt.input); result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
