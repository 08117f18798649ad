package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/metrics"
	"github.com/fjmerc/partstream/internal/middleware"
	"github.com/fjmerc/partstream/internal/multipart"
	"github.com/fjmerc/partstream/internal/repository"
)

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Config  *config.Config
	Repos   *repository.Repositories
	Service *multipart.Service

	// InitLimiter throttles session creation per owner. Nil disables it.
	InitLimiter *middleware.RateLimiter

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler

	StartTime time.Time
}

// NewRouter wires every route with its middleware and returns the root handler.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	auth := middleware.APITokenAuth(d.Repos.APITokens)
	store := d.Service.Store()

	var initHandler http.Handler = UploadInitHandler(d.Service)
	if d.InitLimiter != nil {
		initHandler = d.InitLimiter.Middleware("init")(initHandler)
	}

	// Upload endpoints
	mux.Handle("/api/uploads/init", auth(initHandler))
	mux.Handle("/api/uploads/part-tokens", auth(PartTokensHandler(d.Service)))
	mux.Handle("/api/uploads/part", UploadPartHandler(d.Service, d.Config))
	mux.Handle("/api/uploads/complete", auth(UploadCompleteHandler(d.Service, d.Config)))
	mux.Handle("/api/uploads/abort", auth(UploadAbortHandler(d.Service)))
	mux.Handle("/api/uploads/status/{uploadID}", auth(UploadStatusHandler(d.Service)))

	// Completed objects
	mux.Handle("/api/objects", auth(ObjectListHandler(d.Repos.Objects)))
	mux.Handle("/api/objects/{key...}", auth(ObjectHandler(d.Repos.Objects, store)))

	// Operations
	startTime := d.StartTime
	if startTime.IsZero() {
		startTime = time.Now()
	}
	mux.Handle("/health", HealthHandler(d.Repos, store, startTime))
	mux.Handle("/health/live", HealthLivenessHandler(startTime))

	metricsHandler := d.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	mux.Handle("/metrics", metricsHandler)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Not found", "NOT_FOUND", http.StatusNotFound)
	})

	// Outermost first: logging sees the final status, including recovered panics
	return middleware.LoggingMiddleware(
		middleware.RecoveryMiddleware(
			metrics.Middleware(
				middleware.SecurityHeadersMiddleware(mux),
			),
		),
	)
}
