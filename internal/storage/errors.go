package storage

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrNotFound is returned when an object or upload does not exist
	ErrNotFound = errors.New("object not found")
	// ErrTransient marks failures that may succeed when retried
	ErrTransient = errors.New("transient storage failure")
	// ErrInvalidRange is returned for unsatisfiable byte ranges
	ErrInvalidRange = errors.New("invalid range")
)

// StorageError represents errors from storage operations with additional context.
type StorageError struct {
	Op      string // Operation that failed (e.g., "Put", "Get", "Delete")
	Path    string // Key or upload ID involved
	Err     error  // Underlying error
	Message string // Human-readable message
}

func (e *StorageError) Error() string {
	if e.Message != "" {
		return e.Op + " " + e.Path + ": " + e.Message
	}
	if e.Err == nil {
		return e.Op + " " + e.Path
	}
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the given details.
func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// NewStorageErrorWithMessage creates a new StorageError with a custom message.
func NewStorageErrorWithMessage(op, path string, err error, message string) *StorageError {
	return &StorageError{
		Op:      op,
		Path:    path,
		Err:     err,
		Message: message,
	}
}

// NewTransientError creates a StorageError that IsTransient reports as retryable.
func NewTransientError(op, path string, err error) *StorageError {
	return &StorageError{
		Op:   op,
		Path: path,
		Err:  errors.Join(ErrTransient, err),
	}
}

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err may succeed on retry: explicit transient
// failures, deadline expiry, and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
