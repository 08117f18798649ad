package multipart

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when the caller does not own the session or the key does not match
	ErrForbidden = errors.New("forbidden")
	// ErrSessionNotFound is returned for unknown upload IDs
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrSessionAborted is returned for operations on an aborted session
	ErrSessionAborted = errors.New("upload session aborted")
	// ErrSessionCompleted is returned for operations on a completed session
	ErrSessionCompleted = errors.New("upload session already completed")
	// ErrCompletionInProgress is returned when another request is completing the session
	ErrCompletionInProgress = errors.New("completion already in progress")

	// ErrEmptyFile is returned when a session is initialized for zero bytes
	ErrEmptyFile = errors.New("file is empty")
	// ErrFileTooLarge is returned when the declared size exceeds the configured maximum
	ErrFileTooLarge = errors.New("file too large")
	// ErrEmptyPart is returned for a part with no body
	ErrEmptyPart = errors.New("part is empty")
	// ErrPartTooLarge is returned when a part body exceeds the configured maximum part size
	ErrPartTooLarge = errors.New("part too large")
	// ErrInvalidPartNumber is returned for part numbers outside the session's plan
	ErrInvalidPartNumber = errors.New("invalid part number")
	// ErrInvalidPartSize is returned for part sizes outside the configured bounds
	ErrInvalidPartSize = errors.New("invalid part size")
	// ErrBatchTooLarge is returned when a token request spans too many parts
	ErrBatchTooLarge = errors.New("too many part tokens requested")
	// ErrInvalidFilename is returned for empty or unusable filenames
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrBlockedExtension is returned when the filename carries a blocked extension
	ErrBlockedExtension = errors.New("file extension not allowed")
	// ErrInvalidRequest is returned for structurally invalid requests
	ErrInvalidRequest = errors.New("invalid request")
)

// MissingPartError reports the first gap in a completion part list.
type MissingPartError struct {
	Expected int
}

func (e *MissingPartError) Error() string {
	return fmt.Sprintf("missing part %d", e.Expected)
}

// InvalidPartError reports a claimed part that cannot be used.
type InvalidPartError struct {
	PartNumber int
	Reason     string
}

func (e *InvalidPartError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid part %d", e.PartNumber)
	}
	return fmt.Sprintf("invalid part %d: %s", e.PartNumber, e.Reason)
}

// SizeMismatchError reports a stitched object whose size differs from the parts' sum.
type SizeMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: expected %d bytes, stored %d bytes", e.Expected, e.Actual)
}
