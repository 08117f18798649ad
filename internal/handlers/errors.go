package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/multipart"
	"github.com/fjmerc/partstream/internal/storage"
)

// serviceError maps a sentinel to its HTTP status and error code
type serviceError struct {
	err    error
	status int
	code   string
}

var serviceErrors = []serviceError{
	{multipart.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{multipart.ErrExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{multipart.ErrInvalidSignature, http.StatusUnauthorized, "TOKEN_INVALID_SIGNATURE"},
	{multipart.ErrMalformed, http.StatusUnauthorized, "TOKEN_MALFORMED"},
	{multipart.ErrSessionNotFound, http.StatusNotFound, "UPLOAD_NOT_FOUND"},
	{multipart.ErrSessionAborted, http.StatusGone, "SESSION_ABORTED"},
	{multipart.ErrSessionCompleted, http.StatusConflict, "SESSION_COMPLETED"},
	{multipart.ErrCompletionInProgress, http.StatusConflict, "COMPLETION_IN_PROGRESS"},
	{multipart.ErrEmptyFile, http.StatusBadRequest, "EMPTY_FILE"},
	{multipart.ErrEmptyPart, http.StatusBadRequest, "EMPTY_PART"},
	{multipart.ErrInvalidPartNumber, http.StatusBadRequest, "INVALID_PART_NUMBER"},
	{multipart.ErrInvalidPartSize, http.StatusBadRequest, "INVALID_PART_SIZE"},
	{multipart.ErrBatchTooLarge, http.StatusBadRequest, "BATCH_TOO_LARGE"},
	{multipart.ErrInvalidFilename, http.StatusBadRequest, "INVALID_FILENAME"},
	{multipart.ErrBlockedExtension, http.StatusBadRequest, "BLOCKED_EXTENSION"},
	{multipart.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{multipart.ErrPartTooLarge, http.StatusRequestEntityTooLarge, "PART_TOO_LARGE"},
	{multipart.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
}

// sendServiceError translates an error returned by the upload service into
// an HTTP response. Unknown errors are logged and reported as 500.
func sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *multipart.MissingPartError
	if errors.As(err, &missing) {
		sendErrorResponse(w, http.StatusBadRequest, models.ErrorResponse{
			Error:        err.Error(),
			Code:         "MISSING_PART",
			ExpectedPart: missing.Expected,
		})
		return
	}

	var invalid *multipart.InvalidPartError
	if errors.As(err, &invalid) {
		sendErrorResponse(w, http.StatusBadRequest, models.ErrorResponse{
			Error:      err.Error(),
			Code:       "INVALID_PART",
			PartNumber: invalid.PartNumber,
		})
		return
	}

	var mismatch *multipart.SizeMismatchError
	if errors.As(err, &mismatch) {
		slog.Error("stored object failed integrity check",
			"path", r.URL.Path,
			"expected", mismatch.Expected,
			"actual", mismatch.Actual,
		)
		sendError(w, "Stored object failed integrity check", "INTEGRITY_FAILURE", http.StatusInternalServerError)
		return
	}

	for _, se := range serviceErrors {
		if errors.Is(err, se.err) {
			sendError(w, err.Error(), se.code, se.status)
			return
		}
	}

	if storage.IsTransient(err) {
		slog.Warn("storage temporarily unavailable", "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		sendError(w, "Storage temporarily unavailable, retry the request", "STORAGE_UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	slog.Error("request failed", "path", r.URL.Path, "error", err)
	sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}
