package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
)

// ObjectRepository implements repository.ObjectRepository for SQLite.
type ObjectRepository struct {
	db *sql.DB
}

// NewObjectRepository creates a new SQLite object repository.
func NewObjectRepository(db *sql.DB) *ObjectRepository {
	return &ObjectRepository{db: db}
}

const objectColumns = `object_key, owner_id, filename, content_type, total_size, etag, upload_id, uploaded_at`

func scanObject(row rowScanner) (*models.StoredObject, error) {
	var (
		o          models.StoredObject
		uploadedAt string
	)
	if err := row.Scan(&o.ObjectKey, &o.OwnerID, &o.Filename, &o.ContentType, &o.TotalSize, &o.ETag, &o.UploadID, &uploadedAt); err != nil {
		return nil, err
	}
	t, err := parseTime(uploadedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid uploaded_at: %w", err)
	}
	o.UploadedAt = t
	return &o, nil
}

// Upsert inserts or replaces the record for obj.ObjectKey.
func (r *ObjectRepository) Upsert(ctx context.Context, obj *models.StoredObject) error {
	if obj == nil || obj.ObjectKey == "" || obj.OwnerID == "" {
		return repository.ErrInvalidInput
	}
	if obj.UploadedAt.IsZero() {
		obj.UploadedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stored_objects (`+objectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_key) DO UPDATE SET
			owner_id = excluded.owner_id,
			filename = excluded.filename,
			content_type = excluded.content_type,
			total_size = excluded.total_size,
			etag = excluded.etag,
			upload_id = excluded.upload_id,
			uploaded_at = excluded.uploaded_at`,
		obj.ObjectKey, obj.OwnerID, obj.Filename, obj.ContentType, obj.TotalSize, obj.ETag, obj.UploadID,
		formatTime(obj.UploadedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert object: %w", err)
	}
	return nil
}

// GetByKey retrieves an object by key.
func (r *ObjectRepository) GetByKey(ctx context.Context, key string) (*models.StoredObject, error) {
	o, err := scanObject(r.db.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM stored_objects WHERE object_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+objectColumns+` FROM stored_objects WHERE owner_id = ?
		ORDER BY uploaded_at DESC, object_key LIMIT ? OFFSET ?`,
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
	result, err := r.db.ExecContext(ctx, `DELETE FROM stored_objects WHERE object_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
