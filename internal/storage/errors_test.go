package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStorageError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *StorageError
		want string
	}{
		{"with message", NewStorageErrorWithMessage("Get", "a/b", ErrNotFound, "object not found"), "Get a/b: object not found"},
		{"with path", NewStorageError("Put", "a/b", errors.New("disk full")), "Put a/b: disk full"},
		{"without path", NewStorageError("List", "", errors.New("boom")), "List: boom"},
		{"nil cause", NewStorageError("Stat", "k", nil), "Stat k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	err := fmt.Errorf("load part: %w", NewStorageErrorWithMessage("Get", "k", ErrNotFound, "file not found"))
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false for wrapped ErrNotFound")
	}
	if IsNotFound(errors.New("other")) {
		t.Error("IsNotFound() = true for unrelated error")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient storage error", NewTransientError("Put", "k", errors.New("503 slow down")), true},
		{"wrapped transient", fmt.Errorf("complete: %w", NewTransientError("Put", "k", errors.New("x"))), true},
		{"deadline exceeded", fmt.Errorf("put: %w", context.DeadlineExceeded), true},
		{"not found", NewStorageError("Get", "k", ErrNotFound), false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("access denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
