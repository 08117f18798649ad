package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
)

// ObjectRepository implements repository.ObjectRepository for PostgreSQL.
type ObjectRepository struct {
	pool *Pool
}

// NewObjectRepository creates a new PostgreSQL object repository.
func NewObjectRepository(pool *Pool) *ObjectRepository {
	return &ObjectRepository{pool: pool}
}

const objectColumns = `object_key, owner_id, filename, content_type, total_size, etag, upload_id, uploaded_at`

func scanObject(row pgx.Row) (*models.StoredObject, error) {
	var o models.StoredObject
	if err := row.Scan(&o.ObjectKey, &o.OwnerID, &o.Filename, &o.ContentType, &o.TotalSize, &o.ETag, &o.UploadID, &o.UploadedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// Upsert inserts or replaces the record for obj.ObjectKey.
func (r *ObjectRepository) Upsert(ctx context.Context, obj *models.StoredObject) error {
	if obj == nil || obj.ObjectKey == "" || obj.OwnerID == "" {
		return repository.ErrInvalidInput
	}
	if obj.UploadedAt.IsZero() {
		obj.UploadedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO stored_objects (`+objectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (object_key) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			filename = EXCLUDED.filename,
			content_type = EXCLUDED.content_type,
			total_size = EXCLUDED.total_size,
			etag = EXCLUDED.etag,
			upload_id = EXCLUDED.upload_id,
			uploaded_at = EXCLUDED.uploaded_at`,
		obj.ObjectKey, obj.OwnerID, obj.Filename, obj.ContentType, obj.TotalSize, obj.ETag, obj.UploadID, obj.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert object: %w", err)
	}
	return nil
}

// GetByKey retrieves an object by key.
func (r *ObjectRepository) GetByKey(ctx context.Context, key string) (*models.StoredObject, error) {
	o, err := scanObject(r.pool.QueryRow(ctx, `SELECT `+objectColumns+` FROM stored_objects WHERE object_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return o, nil
}

// ListByOwner returns an owner's objects, newest first.
func (r *ObjectRepository) ListByOwner(ctx context.Context, ownerID string, page repository.PaginationOptions) ([]models.StoredObject, error) {
	page = normalizePage(page)
	rows, err := r.pool.Query(ctx,
		`SELECT `+objectColumns+` FROM stored_objects WHERE owner_id = $1
		ORDER BY uploaded_at DESC, object_key LIMIT $2 OFFSET $3`,
		ownerID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	var objects []models.StoredObject
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		objects = append(objects, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating objects: %w", err)
	}
	return objects, nil
}

// Delete removes an object record.
func (r *ObjectRepository) Delete(ctx context.Context, key string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stored_objects WHERE object_key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return rowsAffectedOrNotFound(tag)
}
