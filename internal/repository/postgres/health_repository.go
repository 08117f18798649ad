package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fjmerc/partstream/internal/repository"
)

// HealthRepository implements health checks for PostgreSQL.
type HealthRepository struct {
	pool *Pool
}

// NewHealthRepository creates a new PostgreSQL health repository.
func NewHealthRepository(pool *Pool) *HealthRepository {
	return &HealthRepository{pool: pool}
}

// Ping performs a basic connectivity check.
func (r *HealthRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CheckHealth runs SELECT 1 and reports pool saturation.
func (r *HealthRepository) CheckHealth(ctx context.Context) (*repository.ComponentHealth, error) {
	start := time.Now()
	health := &repository.ComponentHealth{Name: "postgres"}

	var result int
	err := r.pool.QueryRow(ctx, "SELECT 1").Scan(&result)
	health.Latency = time.Since(start)

	if err != nil {
		health.Status = repository.HealthStatusUnhealthy
		health.Message = "database query failed: " + err.Error()
		return health, err
	}

	health.Status = repository.StatusForLatency(health.Latency)
	stat := r.pool.Stat()
	if stat.MaxConns() > 0 && stat.AcquiredConns() >= stat.MaxConns() {
		health.Status = repository.HealthStatusDegraded
		health.Message = fmt.Sprintf("connection pool exhausted (%d/%d)", stat.AcquiredConns(), stat.MaxConns())
	} else if health.Status == repository.HealthStatusDegraded {
		health.Message = "high query latency"
	}
	return health, nil
}
