package repository

import (
	"context"

	"github.com/fjmerc/partstream/internal/models"
)

// APITokenRepository defines the interface for API token database operations.
type APITokenRepository interface {
	// Create inserts a new token and fills in its ID and CreatedAt.
	Create(ctx context.Context, token *models.APIToken) error

	// GetByHash retrieves an active, unexpired token by hash.
	// Returns ErrNotFound if no usable token matches.
	GetByHash(ctx context.Context, tokenHash string) (*models.APIToken, error)

	// UpdateLastUsed records token usage.
	UpdateLastUsed(ctx context.Context, id int64) error

	// ListByOwner returns all tokens belonging to ownerID.
	ListByOwner(ctx context.Context, ownerID string) ([]models.APIToken, error)

	// Revoke deactivates a token. Returns ErrNotFound if it does not exist.
	Revoke(ctx context.Context, id int64) error

	// CleanupExpired removes expired tokens and returns how many were removed.
	CleanupExpired(ctx context.Context) (int64, error)
}
