package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
)

// UploadSessionRepository implements repository.UploadSessionRepository for SQLite.
type UploadSessionRepository struct {
	db *sql.DB
}

// NewUploadSessionRepository creates a new SQLite upload session repository.
func NewUploadSessionRepository(db *sql.DB) *UploadSessionRepository {
	return &UploadSessionRepository{db: db}
}

const sessionColumns = `upload_id, object_key, owner_id, filename, content_type, expected_size,
	part_size, total_parts, state, native, created_at, last_activity, completed_at, etag, total_size`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.UploadSession, error) {
	var (
		s            models.UploadSession
		state        string
		native       int
		createdAt    string
		lastActivity string
		completedAt  sql.NullString
	)
	err := row.Scan(&s.UploadID, &s.ObjectKey, &s.OwnerID, &s.Filename, &s.ContentType, &s.ExpectedSize,
		&s.PartSize, &s.TotalParts, &state, &native, &createdAt, &lastActivity, &completedAt, &s.ETag, &s.TotalSize)
	if err != nil {
		return nil, err
	}

	s.State = models.SessionState(state)
	s.Native = native != 0
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if s.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("invalid last_activity: %w", err)
	}
	if s.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("invalid completed_at: %w", err)
	}
	return &s, nil
}

func (r *UploadSessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]models.UploadSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

	now := nowUTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	if session.State == "" {
		session.State = models.SessionOpen
	}

	query := `INSERT INTO upload_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		session.UploadID, session.ObjectKey, session.OwnerID, session.Filename, session.ContentType,
		session.ExpectedSize, session.PartSize, session.TotalParts, string(session.State),
		boolToInt(session.Native), formatTime(session.CreatedAt), formatTime(session.LastActivity),
		formatNullTime(session.CompletedAt), session.ETag, session.TotalSize,
	)
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
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE upload_id = ?`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, uploadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	return s, nil
}

// Touch bumps last_activity.
func (r *UploadSessionRepository) Touch(ctx context.Context, uploadID string) error {
	return r.execOne(ctx, `UPDATE upload_sessions SET last_activity = ? WHERE upload_id = ?`,
		formatTime(nowUTC()), uploadID)
}

// UpdateContentType replaces the session content type.
func (r *UploadSessionRepository) UpdateContentType(ctx context.Context, uploadID, contentType string) error {
	return r.execOne(ctx, `UPDATE upload_sessions SET content_type = ? WHERE upload_id = ?`,
		contentType, uploadID)
}

func (r *UploadSessionRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update upload session: %w", err)
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

// TransitionState performs a compare-and-swap on the session state.
func (r *UploadSessionRepository) TransitionState(ctx context.Context, uploadID string, from, to models.SessionState) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE upload_sessions SET state = ?, last_activity = ? WHERE upload_id = ? AND state = ?`,
		string(to), formatTime(nowUTC()), uploadID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition upload session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkCompleted finalizes a completing session.
func (r *UploadSessionRepository) MarkCompleted(ctx context.Context, uploadID, etag string, totalSize int64) error {
	now := formatTime(nowUTC())
	result, err := r.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET state = ?, etag = ?, total_size = ?, completed_at = ?, last_activity = ?
		WHERE upload_id = ? AND state = ?`,
		string(models.SessionCompleted), etag, totalSize, now, now, uploadID, string(models.SessionCompleting))
	if err != nil {
		return fmt.Errorf("failed to mark upload session completed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrConcurrentModification
	}
	return nil
}

// PutPart upserts a part record; the newest write for a part number wins.
// Parts are only accepted while the session is open.
func (r *UploadSessionRepository) PutPart(ctx context.Context, part *models.UploadPart) error {
	if part == nil || part.UploadID == "" || part.PartNumber < 1 || part.ETag == "" || part.Size < 0 {
		return repository.ErrInvalidInput
	}
	if part.UpdatedAt.IsZero() {
		part.UpdatedAt = nowUTC()
	}

	tx, err := beginImmediateTx(ctx, r.db)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// The immediate transaction holds the write lock, so the state read
	// cannot race a TransitionState out of open.
	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM upload_sessions WHERE upload_id = ?`, part.UploadID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read upload session state: %w", err)
	}
	if models.SessionState(state) != models.SessionOpen {
		return repository.ErrConcurrentModification
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO upload_parts (upload_id, part_number, etag, size, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(upload_id, part_number) DO UPDATE SET
			etag = excluded.etag,
			size = excluded.size,
			updated_at = excluded.updated_at`,
		part.UploadID, part.PartNumber, part.ETag, part.Size, formatTime(part.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to record part: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE upload_sessions SET last_activity = ? WHERE upload_id = ?`,
		formatTime(part.UpdatedAt), part.UploadID); err != nil {
		return fmt.Errorf("failed to touch upload session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPart retrieves one registered part.
func (r *UploadSessionRepository) GetPart(ctx context.Context, uploadID string, partNumber int) (*models.UploadPart, error) {
	var (
		p         models.UploadPart
		updatedAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT upload_id, part_number, etag, size, updated_at FROM upload_parts WHERE upload_id = ? AND part_number = ?`,
		uploadID, partNumber).Scan(&p.UploadID, &p.PartNumber, &p.ETag, &p.Size, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get part: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return &p, nil
}

// ListParts returns registered parts ordered by part number.
func (r *UploadSessionRepository) ListParts(ctx context.Context, uploadID string) ([]models.UploadPart, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT upload_id, part_number, etag, size, updated_at FROM upload_parts WHERE upload_id = ? ORDER BY part_number`,
		uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	defer rows.Close()

	var parts []models.UploadPart
	for rows.Next() {
		var (
			p         models.UploadPart
			updatedAt string
		)
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &p.ETag, &p.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan part: %w", err)
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("invalid updated_at: %w", err)
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
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		ownerID, page.Limit, page.Offset)
}

// ListStale returns sessions in state whose last activity is before cutoff.
func (r *UploadSessionRepository) ListStale(ctx context.Context, state models.SessionState, cutoff time.Time) ([]models.UploadSession, error) {
	return r.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE state = ? AND last_activity < ?
		ORDER BY last_activity`,
		string(state), formatTime(cutoff))
}

// ListTerminatedBefore returns completed or aborted sessions last active before cutoff.
func (r *UploadSessionRepository) ListTerminatedBefore(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error) {
	return r.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE state IN (?, ?) AND last_activity < ?
		ORDER BY last_activity`,
		string(models.SessionCompleted), string(models.SessionAborted), formatTime(cutoff))
}

// CountByState returns the number of sessions in state.
func (r *UploadSessionRepository) CountByState(ctx context.Context, state models.SessionState) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM upload_sessions WHERE state = ?`, string(state)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count upload sessions: %w", err)
	}
	return count, nil
}

// Delete removes a session and its part records.
func (r *UploadSessionRepository) Delete(ctx context.Context, uploadID string) error {
	tx, err := beginImmediateTx(ctx, r.db)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM upload_parts WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("failed to delete parts: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM upload_sessions WHERE upload_id = ?`, uploadID)
	if err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
