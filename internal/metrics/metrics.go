package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// UploadSessionsTotal counts session lifecycle events by result (created, rejected, aborted)
	UploadSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstream_upload_sessions_total",
			Help: "Total number of upload sessions by result",
		},
		[]string{"result"},
	)

	// PartsUploadedTotal counts parts stored and registered
	PartsUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partstream_parts_uploaded_total",
			Help: "Total number of upload parts stored",
		},
	)

	// PartBytesTotal counts bytes received in parts
	PartBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partstream_part_bytes_total",
			Help: "Total bytes received in upload parts",
		},
	)

	// CompletionsTotal counts completion attempts by result
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstream_completions_total",
			Help: "Total number of completion attempts by result",
		},
		[]string{"result"},
	)

	// TokensIssuedTotal counts part tokens issued
	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partstream_tokens_issued_total",
			Help: "Total number of part tokens issued",
		},
	)

	// TokenRejectionsTotal counts rejected part tokens by reason (malformed, expired, invalid_signature)
	TokenRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstream_token_rejections_total",
			Help: "Total number of rejected part tokens by reason",
		},
		[]string{"reason"},
	)

	// ReaperSessionsReapedTotal counts reaper actions by reason
	ReaperSessionsReapedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstream_reaper_sessions_reaped_total",
			Help: "Total number of sessions and orphans handled by the reaper",
		},
		[]string{"reason"},
	)

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstream_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Histogram metrics (distributions)
var (
	// HTTPRequestDuration tracks HTTP request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partstream_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// PartUploadDuration tracks time to persist and register one part
	PartUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "partstream_part_upload_duration_seconds",
			Help:    "Time to store and register one upload part",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// CompletionDuration tracks time spent stitching parts into the final object
	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "partstream_completion_duration_seconds",
			Help:    "Time to complete an upload",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)
)
