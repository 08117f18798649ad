package repository

import (
	"context"
	"time"
)

// HealthStatus represents the overall health state.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// slowQueryThreshold marks the database degraded when exceeded.
const slowQueryThreshold = 100 * time.Millisecond

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latency_ms,omitempty"`
	Message string        `json:"message,omitempty"`
}

// StatusForLatency grades a successful probe by how long it took.
func StatusForLatency(latency time.Duration) HealthStatus {
	if latency > slowQueryThreshold {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

// HealthRepository provides health check operations for the database.
type HealthRepository interface {
	// Ping performs a basic connectivity check.
	Ping(ctx context.Context) error

	// CheckHealth runs a trivial query and grades its latency.
	CheckHealth(ctx context.Context) (*ComponentHealth, error)
}
