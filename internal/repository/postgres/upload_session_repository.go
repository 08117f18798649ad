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

// UploadSessionRepository implements repository.UploadSessionRepository for PostgreSQL.
type UploadSessionRepository struct {
	pool *Pool
}

// NewUploadSessionRepository creates a new PostgreSQL upload session repository.
func NewUploadSessionRepository(pool *Pool) *UploadSessionRepository {
	return &UploadSessionRepository{pool: pool}
}

const sessionColumns = `upload_id, object_key, owner_id, filename, content_type, expected_size,
	part_size, total_parts, state, native, created_at, last_activity, completed_at, etag, total_size`

func scanSession(row pgx.Row) (*models.UploadSession, error) {
	var (
		s     models.UploadSession
		state string
	)
	err := row.Scan(&s.UploadID, &s.ObjectKey, &s.OwnerID, &s.Filename, &s.ContentType, &s.ExpectedSize,
		&s.PartSize, &s.TotalParts, &state, &s.Native, &s.CreatedAt, &s.LastActivity, &s.CompletedAt, &s.ETag, &s.TotalSize)
	if err != nil {
		return nil, err
	}
	s.State = models.SessionState(state)
	return &s, nil
}

func (r *UploadSessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]models.UploadSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload sessions: %w", err)
	}
	return sessions, nil
}

// Create inserts a new session.
func (r *UploadSessionRepository) Create(ctx context.Context, session *models.UploadSession) error {
	if session == nil || session.UploadID == "" || session.ObjectKey == "" || session.OwnerID == "" {
		return repository.ErrInvalidInput
	}
	if session.PartSize <= 0 {
		return fmt.Errorf("%w: part size must be positive", repository.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	if session.State == "" {
		session.State = models.SessionOpen
	}

	_, err := r.pool.Exec(ctx, `INSERT INTO upload_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		session.UploadID, session.ObjectKey, session.OwnerID, session.Filename, session.ContentType,
		session.ExpectedSize, session.PartSize, session.TotalParts, string(session.State), session.Native,
		session.CreatedAt, session.LastActivity, session.CompletedAt, session.ETag, session.TotalSize)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create upload session: %w", err)
	}
	return nil
}

// GetByUploadID retrieves a session by its upload ID.
func (r *UploadSessionRepository) GetByUploadID(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE upload_id = $1`, uploadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	return s, nil
}

// Touch bumps last_activity.
func (r *UploadSessionRepository) Touch(ctx context.Context, uploadID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE upload_sessions SET last_activity = NOW() WHERE upload_id = $1`, uploadID)
	if err != nil {
		return fmt.Errorf("failed to touch upload session: %w", err)
	}
	return rowsAffectedOrNotFound(tag)
}

// UpdateContentType replaces the session content type.
func (r *UploadSessionRepository) UpdateContentType(ctx context.Context, uploadID, contentType string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE upload_sessions SET content_type = $1 WHERE upload_id = $2`, contentType, uploadID)
	if err != nil {
		return fmt.Errorf("failed to update content type: %w", err)
	}
	return rowsAffectedOrNotFound(tag)
}

// TransitionState performs a compare-and-swap on the session state.
func (r *UploadSessionRepository) TransitionState(ctx context.Context, uploadID string, from, to models.SessionState) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE upload_sessions SET state = $1, last_activity = NOW() WHERE upload_id = $2 AND state = $3`,
		string(to), uploadID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition upload session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted finalizes a completing session.
func (r *UploadSessionRepository) MarkCompleted(ctx context.Context, uploadID, etag string, totalSize int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET state = $1, etag = $2, total_size = $3, completed_at = NOW(), last_activity = NOW()
		WHERE upload_id = $4 AND state = $5`,
		string(models.SessionCompleted), etag, totalSize, uploadID, string(models.SessionCompleting))
	if err != nil {
		return fmt.Errorf("failed to mark upload session completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConcurrentModification
	}
	return nil
}

// PutPart upserts a part record and touches the session in one transaction.
// The session row is locked so the part cannot land after it leaves open.
func (r *UploadSessionRepository) PutPart(ctx context.Context, part *models.UploadPart) error {
	if part == nil || part.UploadID == "" || part.PartNumber < 1 || part.ETag == "" || part.Size < 0 {
		return repository.ErrInvalidInput
	}
	if part.UpdatedAt.IsZero() {
		part.UpdatedAt = time.Now().UTC()
	}

	return withRetryNoReturn(ctx, defaultMaxRetries, func() error {
		tx, err := r.pool.BeginTx(ctx, TxOptions())
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var state string
		err = tx.QueryRow(ctx, `SELECT state FROM upload_sessions WHERE upload_id = $1 FOR UPDATE`, part.UploadID).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock upload session: %w", err)
		}
		if models.SessionState(state) != models.SessionOpen {
			return repository.ErrConcurrentModification
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO upload_parts (upload_id, part_number, etag, size, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (upload_id, part_number) DO UPDATE SET
				etag = EXCLUDED.etag,
				size = EXCLUDED.size,
				updated_at = EXCLUDED.updated_at`,
			part.UploadID, part.PartNumber, part.ETag, part.Size, part.UpdatedAt); err != nil {
			return fmt.Errorf("failed to record part: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE upload_sessions SET last_activity = $1 WHERE upload_id = $2`,
			part.UpdatedAt, part.UploadID); err != nil {
			return fmt.Errorf("failed to touch upload session: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// GetPart retrieves one registered part.
func (r *UploadSessionRepository) GetPart(ctx context.Context, uploadID string, partNumber int) (*models.UploadPart, error) {
	var p models.UploadPart
	err := r.pool.QueryRow(ctx,
		`SELECT upload_id, part_number, etag, size, updated_at FROM upload_parts WHERE upload_id = $1 AND part_number = $2`,
		uploadID, partNumber).Scan(&p.UploadID, &p.PartNumber, &p.ETag, &p.Size, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get part: %w", err)
	}
	return &p, nil
}

// ListParts returns registered parts ordered by part number.
func (r *UploadSessionRepository) ListParts(ctx context.Context, uploadID string) ([]models.UploadPart, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT upload_id, part_number, etag, size, updated_at FROM upload_parts WHERE upload_id = $1 ORDER BY part_number`,
		uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	defer rows.Close()

	var parts []models.UploadPart
	for rows.Next() {
		var p models.UploadPart
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &p.ETag, &p.Size, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan part: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parts: %w", err)
	}
	return parts, nil
}

// ListByOwner returns an owner's sessions, newest first.
func (r *UploadSessionRepository) ListByOwner(ctx context.Context, ownerID string, page repository.PaginationOptions) ([]models.UploadSession, error) {
	page = normalizePage(page)
	return r.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE owner_id = $1
		ORDER BY created_at DESC, upload_id LIMIT $2 OFFSET $3`,
		ownerID, page.Limit, page.Offset)
}

// ListStale returns sessions in state whose last activity is before cutoff.
func (r *UploadSessionRepository) ListStale(ctx context.Context, state models.SessionState, cutoff time.Time) ([]models.UploadSession, error) {
	return r.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE state = $1 AND last_activity < $2 ORDER BY last_activity`,
		string(state), cutoff)
}

// ListTerminatedBefore returns completed or aborted sessions last active before cutoff.
func (r *UploadSessionRepository) ListTerminatedBefore(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error) {
	return r.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE state IN ($1, $2) AND last_activity < $3 ORDER BY last_activity`,
		string(models.SessionCompleted), string(models.SessionAborted), cutoff)
}

// CountByState returns the number of sessions in state.
func (r *UploadSessionRepository) CountByState(ctx context.Context, state models.SessionState) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM upload_sessions WHERE state = $1`, string(state)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count upload sessions: %w", err)
	}
	return count, nil
}

// Delete removes a session; parts go with it through ON DELETE CASCADE.
func (r *UploadSessionRepository) Delete(ctx context.Context, uploadID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM upload_sessions WHERE upload_id = $1`, uploadID)
	if err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}
	return rowsAffectedOrNotFound(tag)
}
