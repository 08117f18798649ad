package postgres

import (
	"context"
	"fmt"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/repository"
)

// NewRepositories connects to PostgreSQL, runs migrations, and builds every
// repository. Cleanup closes the pool.
func NewRepositories(ctx context.Context, cfg config.PostgresConfig) (*repository.Repositories, error) {
	pool, err := NewPool(ctx, buildConnectionString(cfg), cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	repos, err := NewRepositoriesWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	repos.Cleanup = pool.Close
	return repos, nil
}

// NewRepositoriesWithPool builds repositories over an existing pool.
// The caller owns the pool; Cleanup is nil.
func NewRepositoriesWithPool(pool *Pool) (*repository.Repositories, error) {
	if pool == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Sessions:     NewUploadSessionRepository(pool),
		Objects:      NewObjectRepository(pool),
		APITokens:    NewAPITokenRepository(pool),
		Locks:        NewLockRepository(pool),
		Health:       NewHealthRepository(pool),
		DatabaseType: repository.DatabaseTypePostgres,
	}, nil
}
