package repository

import (
	"context"
	"time"

	"github.com/fjmerc/partstream/internal/models"
)

// UploadSessionRepository defines the interface for upload session and part
// registry operations. All methods accept a context for cancellation and
// timeout support.
type UploadSessionRepository interface {
	// Create inserts a new session. Returns ErrDuplicateKey if the upload ID exists.
	Create(ctx context.Context, session *models.UploadSession) error

	// GetByUploadID retrieves a session. Returns ErrNotFound if it does not exist.
	GetByUploadID(ctx context.Context, uploadID string) (*models.UploadSession, error)

	// Touch updates last_activity to now.
	Touch(ctx context.Context, uploadID string) error

	// UpdateContentType replaces the session content type.
	UpdateContentType(ctx context.Context, uploadID, contentType string) error

	// TransitionState atomically moves a session from one state to another.
	// Returns false (with nil error) when the session is not in the from state.
	TransitionState(ctx context.Context, uploadID string, from, to models.SessionState) (bool, error)

	// MarkCompleted moves a completing session to completed and records the result.
	// Returns ErrConcurrentModification if the session was not completing.
	MarkCompleted(ctx context.Context, uploadID, etag string, totalSize int64) error

	// PutPart records a stored part; a later write for the same part number replaces it.
	// Returns ErrConcurrentModification if the session is not open.
	PutPart(ctx context.Context, part *models.UploadPart) error

	// GetPart retrieves one registered part. Returns ErrNotFound if absent.
	GetPart(ctx context.Context, uploadID string, partNumber int) (*models.UploadPart, error)

	// ListParts returns registered parts ordered by part number.
	ListParts(ctx context.Context, uploadID string) ([]models.UploadPart, error)

	// ListByOwner returns an owner's sessions, newest first.
	ListByOwner(ctx context.Context, ownerID string, page PaginationOptions) ([]models.UploadSession, error)

	// ListStale returns sessions in state whose last activity is before cutoff.
	ListStale(ctx context.Context, state models.SessionState, cutoff time.Time) ([]models.UploadSession, error)

	// ListTerminatedBefore returns completed or aborted sessions last active before cutoff.
	ListTerminatedBefore(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error)

	// CountByState returns the number of sessions in state.
	CountByState(ctx context.Context, state models.SessionState) (int, error)

	// Delete removes a session and its part records.
	Delete(ctx context.Context, uploadID string) error
}
