package repository

// DatabaseType identifies the backing database.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// Repositories holds all repository implementations.
// This struct provides a single point of access to all data access layers.
type Repositories struct {
	Sessions  UploadSessionRepository
	Objects   ObjectRepository
	APITokens APITokenRepository
	Locks     LockRepository
	Health    HealthRepository

	DatabaseType DatabaseType

	// Cleanup releases the underlying connection; may be nil
	Cleanup func()
}

// Close runs Cleanup if set.
func (r *Repositories) Close() {
	if r.Cleanup != nil {
		r.Cleanup()
	}
}
