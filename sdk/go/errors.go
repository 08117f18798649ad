package partstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Standard errors returned by the SDK. Every APIError unwraps to one of
// these so callers can branch with errors.Is.
var (
	// ErrValidation indicates invalid input parameters.
	ErrValidation = errors.New("validation error")
	// ErrAuthentication indicates a missing or rejected API token.
	ErrAuthentication = errors.New("authentication failed")
	// ErrForbidden indicates the resource belongs to another owner.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the upload or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTokenExpired indicates a part token outlived its expiry.
	ErrTokenExpired = errors.New("part token expired")
	// ErrTokenRejected indicates a part token failed verification.
	ErrTokenRejected = errors.New("part token rejected")
	// ErrMissingPart indicates completion found a gap in the part sequence.
	ErrMissingPart = errors.New("missing part")
	// ErrInvalidPart indicates a receipt did not match the stored part.
	ErrInvalidPart = errors.New("invalid part")
	// ErrTooLarge indicates a part or file exceeds server limits.
	ErrTooLarge = errors.New("too large")
	// ErrSessionAborted indicates the upload was aborted.
	ErrSessionAborted = errors.New("upload aborted")
	// ErrConflict indicates the upload is completed or being completed.
	ErrConflict = errors.New("upload conflict")
	// ErrRangeNotSatisfiable indicates a download range lies past the object end.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrRateLimit indicates too many requests.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrUnavailable indicates a transient server or storage failure.
	ErrUnavailable = errors.New("service unavailable")
)

// APIError represents an error response from the server.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Code is the machine-readable error code, e.g. "MISSING_PART".
	Code string
	// Message is the error message.
	Message string
	// ExpectedPart is set for MISSING_PART.
	ExpectedPart int
	// PartNumber is set for INVALID_PART.
	PartNumber int
	// Err is the underlying error type.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (status %d)", e.Err.Error(), msg, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for errors.Is.
func (e *APIError) Is(target error) bool {
	return e.Err != nil && errors.Is(e.Err, target)
}

// ValidationError represents an input validation failure.
type ValidationError struct {
	// Field is the name of the invalid field.
	Field string
	// Message describes what's wrong.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap returns ErrValidation for errors.Is support.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// UploadError is returned by Upload when an upload stops before completion.
// Resume holds what a later Upload call needs to continue it.
type UploadError struct {
	// Resume identifies the session; empty when init itself failed.
	Resume ResumeState
	// PartNumber is the part that failed, if any.
	PartNumber int
	// PartsDone counts parts the server has accepted.
	PartsDone int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	if e.PartNumber > 0 {
		return fmt.Sprintf("upload failed (upload_id=%s, part=%d): %v", e.Resume.UploadID, e.PartNumber, e.Err)
	}
	return fmt.Sprintf("upload failed (upload_id=%s): %v", e.Resume.UploadID, e.Err)
}

// Unwrap returns the underlying error.
func (e *UploadError) Unwrap() error {
	return e.Err
}

// Resumable reports whether the session can be continued.
func (e *UploadError) Resumable() bool {
	if e.Resume.UploadID == "" {
		return false
	}
	return !errors.Is(e.Err, ErrSessionAborted) && !errors.Is(e.Err, ErrConflict)
}

// codeErrors maps server error codes to SDK sentinels.
var codeErrors = map[string]error{
	"UNAUTHENTICATED":         ErrAuthentication,
	"FORBIDDEN":               ErrForbidden,
	"UPLOAD_NOT_FOUND":        ErrNotFound,
	"OBJECT_NOT_FOUND":        ErrNotFound,
	"TOKEN_EXPIRED":           ErrTokenExpired,
	"TOKEN_INVALID_SIGNATURE": ErrTokenRejected,
	"TOKEN_MALFORMED":         ErrTokenRejected,
	"MISSING_PART":            ErrMissingPart,
	"INVALID_PART":            ErrInvalidPart,
	"PART_TOO_LARGE":          ErrTooLarge,
	"FILE_TOO_LARGE":          ErrTooLarge,
	"REQUEST_TOO_LARGE":       ErrTooLarge,
	"SESSION_ABORTED":         ErrSessionAborted,
	"SESSION_COMPLETED":       ErrConflict,
	"COMPLETION_IN_PROGRESS":  ErrConflict,
	"RANGE_NOT_SATISFIABLE":   ErrRangeNotSatisfiable,
	"RATE_LIMITED":            ErrRateLimit,
	"STORAGE_UNAVAILABLE":     ErrUnavailable,
}

// newAPIError creates an APIError from a decoded error body, falling back
// to the status code when the code is unknown.
func newAPIError(statusCode int, body errorBody) *APIError {
	err := &APIError{
		StatusCode:   statusCode,
		Code:         body.Code,
		Message:      sanitizeErrorMessage(body.Error),
		ExpectedPart: body.ExpectedPart,
		PartNumber:   body.PartNumber,
	}

	if sentinel, ok := codeErrors[body.Code]; ok {
		err.Err = sentinel
		return err
	}

	switch {
	case statusCode == http.StatusBadRequest:
		err.Err = ErrValidation
	case statusCode == http.StatusUnauthorized:
		err.Err = ErrAuthentication
	case statusCode == http.StatusForbidden:
		err.Err = ErrForbidden
	case statusCode == http.StatusNotFound:
		err.Err = ErrNotFound
	case statusCode == http.StatusConflict:
		err.Err = ErrConflict
	case statusCode == http.StatusGone:
		err.Err = ErrSessionAborted
	case statusCode == http.StatusRequestEntityTooLarge:
		err.Err = ErrTooLarge
	case statusCode == http.StatusRequestedRangeNotSatisfiable:
		err.Err = ErrRangeNotSatisfiable
	case statusCode == http.StatusTooManyRequests:
		err.Err = ErrRateLimit
	case statusCode >= http.StatusInternalServerError && statusCode != http.StatusNotImplemented:
		err.Err = ErrUnavailable
	}

	return err
}

// retryable reports whether a failed request may succeed if repeated.
// Network failures, 429 and 5xx are retryable; other API errors are not.
func retryable(err error) bool {
	if errors.Is(err, ErrValidation) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	if apiErr.Code == "INTEGRITY_FAILURE" {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
}

// sanitizeErrorMessage removes potentially sensitive information from error messages.
func sanitizeErrorMessage(msg string) string {
	sensitivePatterns := []string{
		"password",
		"secret",
		"authorization",
		"cookie",
		"credential",
	}

	lowerMsg := strings.ToLower(msg)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return "request failed"
		}
	}

	return msg
}
