package repository

import (
	"context"

	"github.com/fjmerc/partstream/internal/models"
)

// ObjectRepository stores metadata for completed objects.
type ObjectRepository interface {
	// Upsert inserts or replaces the record for obj.ObjectKey.
	Upsert(ctx context.Context, obj *models.StoredObject) error

	// GetByKey retrieves an object. Returns ErrNotFound if absent.
	GetByKey(ctx context.Context, key string) (*models.StoredObject, error)

	// ListByOwner returns an owner's objects, newest first.
	ListByOwner(ctx context.Context, ownerID string, page PaginationOptions) ([]models.StoredObject, error)

	// Delete removes an object record. Returns ErrNotFound if absent.
	Delete(ctx context.Context, key string) error
}
