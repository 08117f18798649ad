package repository

import (
	"context"
	"errors"
	"time"
)

// Common lock errors.
var (
	// ErrLockNotAcquired indicates the lock is held by someone else.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrInvalidLockKey indicates the lock key is invalid (empty or too long).
	ErrInvalidLockKey = errors.New("invalid lock key")

	// ErrInvalidLockType indicates an unknown lock type.
	ErrInvalidLockType = errors.New("invalid lock type")
)

// LockType represents the type of distributed lock.
type LockType string

const (
	// LockTypeCompletion serializes completion of a single upload.
	LockTypeCompletion LockType = "completion"

	// LockTypeReaper ensures one instance sweeps stale sessions at a time.
	LockTypeReaper LockType = "reaper"
)

// LockInfo describes a held lock.
type LockInfo struct {
	Key        string    `json:"key"`
	Type       LockType  `json:"type"`
	OwnerID    string    `json:"owner_id"` // hostname:pid:nonce
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LockRepository defines database-backed locks shared by every server
// instance pointing at the same database. Implementations must be safe for
// concurrent use.
type LockRepository interface {
	// TryAcquire attempts to acquire a lock without blocking.
	// Returns (true, LockInfo, nil) if acquired, (false, nil, nil) if held
	// by another owner. Expired locks are taken over.
	TryAcquire(ctx context.Context, lockType LockType, lockKey string, ttl time.Duration, ownerID string) (bool, *LockInfo, error)

	// Release releases a lock held by ownerID. Releasing a lock that is not
	// held is not an error.
	Release(ctx context.Context, lockType LockType, lockKey string, ownerID string) error

	// Refresh extends the TTL of a held lock.
	// Returns ErrLockNotAcquired if ownerID does not hold the lock.
	Refresh(ctx context.Context, lockType LockType, lockKey string, ttl time.Duration, ownerID string) error

	// IsHeld reports whether an unexpired lock exists and who holds it.
	IsHeld(ctx context.Context, lockType LockType, lockKey string) (bool, string, error)

	// CleanupExpired removes expired locks and returns how many were removed.
	CleanupExpired(ctx context.Context) (int64, error)
}

// ValidLockTypes is a set of valid lock types for validation.
var ValidLockTypes = map[LockType]bool{
	LockTypeCompletion: true,
	LockTypeReaper:     true,
}

// ValidateLock validates the lock type and key.
func ValidateLock(lockType LockType, key string) error {
	if !ValidLockTypes[lockType] {
		return ErrInvalidLockType
	}
	if key == "" || len(key) > 255 {
		return ErrInvalidLockKey
	}
	return nil
}
