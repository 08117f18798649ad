package sqlite

import (
	"database/sql"

	"github.com/fjmerc/partstream/internal/repository"
)

// NewRepositories creates all SQLite repository implementations over db.
// Cleanup closes db.
func NewRepositories(db *sql.DB) (*repository.Repositories, error) {
	if db == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Sessions:     NewUploadSessionRepository(db),
		Objects:      NewObjectRepository(db),
		APITokens:    NewAPITokenRepository(db),
		Locks:        NewLockRepository(db),
		Health:       NewHealthRepository(db),
		DatabaseType: repository.DatabaseTypeSQLite,
		Cleanup: func() {
			db.Close()
		},
	}, nil
}
