// Package repository defines interfaces for data access operations.
// This package provides abstractions for database operations, allowing
// different backend implementations (SQLite, PostgreSQL) to be swapped
// without changing application code.
package repository

import (
	"errors"
)

// Common errors returned by repository operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConcurrentModification is returned when a conditional update lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilDatabase is returned when a nil database connection is provided.
	ErrNilDatabase = errors.New("nil database connection")

	// ErrServiceUnavailable is returned when the database is temporarily unavailable.
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)

// PaginationOptions provides common pagination parameters.
type PaginationOptions struct {
	Limit  int
	Offset int
}

// DefaultPagination returns default pagination options (limit 100, offset 0).
func DefaultPagination() PaginationOptions {
	return PaginationOptions{
		Limit:  100,
		Offset: 0,
	}
}
