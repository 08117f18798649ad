package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 if WriteHeader not called
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// normalizePath maps URL paths to a bounded set of metric labels.
// Object keys and upload IDs are replaced with placeholders.
func normalizePath(path string) string {
	switch path {
	case "/health", "/health/live", "/metrics",
		"/api/uploads/init", "/api/uploads/part-tokens", "/api/uploads/part",
		"/api/uploads/complete", "/api/uploads/abort", "/api/objects":
		return path
	}

	switch {
	case strings.HasPrefix(path, "/api/uploads/status/"):
		return "/api/uploads/status/:id"
	case strings.HasPrefix(path, "/api/objects/"):
		return "/api/objects/:key"
	default:
		return "/other"
	}
}
