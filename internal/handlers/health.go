package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/storage"
)

// healthCheckTimeout bounds all dependency checks in one health request
const healthCheckTimeout = 5 * time.Second

// setHealthCacheHeaders prevents caching of health check responses
func setHealthCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// HealthLivenessHandler reports that the process is serving requests.
// It checks no dependencies.
// GET /health/live
func HealthLivenessHandler(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setHealthCacheHeaders(w)
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		sendJSON(w, http.StatusOK, models.HealthResponse{
			Status:        string(repository.HealthStatusHealthy),
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
		})
	}
}

// HealthHandler checks the database and the object store. It answers 503
// when either is unhealthy and 200 otherwise, including when degraded.
// GET /health
func HealthHandler(repos *repository.Repositories, store storage.Backend, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setHealthCacheHeaders(w)
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		response := checkHealth(ctx, repos, store)
		response.UptimeSeconds = int64(time.Since(startTime).Seconds())

		status := http.StatusOK
		if response.Status == string(repository.HealthStatusUnhealthy) {
			status = http.StatusServiceUnavailable
		}
		sendJSON(w, status, response)
	}
}

func checkHealth(ctx context.Context, repos *repository.Repositories, store storage.Backend) *models.HealthResponse {
	overall := repository.HealthStatusHealthy
	degrade := func(s repository.HealthStatus) {
		switch {
		case s == repository.HealthStatusUnhealthy:
			overall = s
		case s == repository.HealthStatusDegraded && overall == repository.HealthStatusHealthy:
			overall = s
		}
	}

	response := &models.HealthResponse{Checks: make(map[string]string)}

	dbHealth, err := repos.Health.CheckHealth(ctx)
	switch {
	case err != nil:
		slog.Error("database health check failed", "error", err)
		response.Checks["database"] = string(repository.HealthStatusUnhealthy)
		degrade(repository.HealthStatusUnhealthy)
	default:
		response.Checks["database"] = string(dbHealth.Status)
		response.DatabaseMS = dbHealth.Latency.Milliseconds()
		degrade(dbHealth.Status)
	}

	if err := store.HealthCheck(ctx); err != nil {
		slog.Error("storage health check failed", "error", err)
		response.Checks["storage"] = string(repository.HealthStatusUnhealthy)
		degrade(repository.HealthStatusUnhealthy)
	} else {
		response.Checks["storage"] = string(repository.HealthStatusHealthy)
	}

	if response.Checks["database"] != string(repository.HealthStatusUnhealthy) {
		open, err := repos.Sessions.CountByState(ctx, models.SessionOpen)
		if err != nil {
			slog.Warn("failed to count open sessions", "error", err)
		} else {
			response.OpenSessions = open
		}
	}

	response.Status = string(overall)
	return response
}
