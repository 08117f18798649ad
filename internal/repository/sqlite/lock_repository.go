package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjmerc/partstream/internal/repository"
)

// maxLockTTL caps lock lifetimes.
const maxLockTTL = 24 * time.Hour

// LockRepository implements repository.LockRepository with a row per lock
// in distributed_locks. Instances sharing the database file share the locks.
type LockRepository struct {
	db *sql.DB
}

// NewLockRepository creates a new SQLite lock repository.
func NewLockRepository(db *sql.DB) *LockRepository {
	return &LockRepository{db: db}
}

func validateLockArgs(lockType repository.LockType, lockKey, ownerID string) error {
	if err := repository.ValidateLock(lockType, lockKey); err != nil {
		return err
	}
	if ownerID == "" {
		return fmt.Errorf("owner_id cannot be empty")
	}
	return nil
}

// TryAcquire attempts to acquire a lock without blocking.
func (r *LockRepository) TryAcquire(ctx context.Context, lockType repository.LockType, lockKey string, ttl time.Duration, ownerID string) (bool, *repository.LockInfo, error) {
	if err := validateLockArgs(lockType, lockKey, ownerID); err != nil {
		return false, nil, err
	}
	if ttl <= 0 {
		return false, nil, fmt.Errorf("ttl must be positive")
	}
	if ttl > maxLockTTL {
		ttl = maxLockTTL
	}

	now := nowUTC()
	expiresAt := now.Add(ttl)

	tx, err := beginImmediateTx(ctx, r.db)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existingOwner, existingExpiresAt string
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, expires_at FROM distributed_locks WHERE lock_type = ? AND lock_key = ?`,
		string(lockType), lockKey).Scan(&existingOwner, &existingExpiresAt)

	switch {
	case err == nil:
		expTime, parseErr := parseTime(existingExpiresAt)
		if parseErr == nil && expTime.After(now) {
			if existingOwner == ownerID {
				return r.refreshInTransaction(ctx, tx, lockType, lockKey, ownerID, now, expiresAt)
			}
			return false, nil, nil
		}
		// Expired or unreadable: take it over
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM distributed_locks WHERE lock_type = ? AND lock_key = ?`,
			string(lockType), lockKey); err != nil {
			return false, nil, fmt.Errorf("failed to delete expired lock: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return false, nil, fmt.Errorf("failed to check existing lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO distributed_locks (lock_type, lock_key, owner_id, acquired_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(lockType), lockKey, ownerID, formatTime(now), formatTime(expiresAt), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("failed to insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, &repository.LockInfo{
		Key:        lockKey,
		Type:       lockType,
		OwnerID:    ownerID,
		AcquiredAt: now,
		ExpiresAt:  expiresAt,
	}, nil
}

func (r *LockRepository) refreshInTransaction(ctx context.Context, tx *sql.Tx, lockType repository.LockType, lockKey, ownerID string, now, expiresAt time.Time) (bool, *repository.LockInfo, error) {
	var acquiredAtStr string
	err := tx.QueryRowContext(ctx,
		`SELECT acquired_at FROM distributed_locks WHERE lock_type = ? AND lock_key = ? AND owner_id = ?`,
		string(lockType), lockKey, ownerID).Scan(&acquiredAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to get lock info: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE distributed_locks SET expires_at = ?, updated_at = ?
		WHERE lock_type = ? AND lock_key = ? AND owner_id = ?`,
		formatTime(expiresAt), formatTime(now), string(lockType), lockKey, ownerID); err != nil {
		return false, nil, fmt.Errorf("failed to refresh lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	acquiredAt, err := parseTime(acquiredAtStr)
	if err != nil {
		acquiredAt = now
	}

	return true, &repository.LockInfo{
		Key:        lockKey,
		Type:       lockType,
		OwnerID:    ownerID,
		AcquiredAt: acquiredAt,
		ExpiresAt:  expiresAt,
	}, nil
}

// Release releases a held lock.
func (r *LockRepository) Release(ctx context.Context, lockType repository.LockType, lockKey string, ownerID string) error {
	if err := validateLockArgs(lockType, lockKey, ownerID); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM distributed_locks WHERE lock_type = ? AND lock_key = ? AND owner_id = ?`,
		string(lockType), lockKey, ownerID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Refresh extends the TTL of a held lock.
func (r *LockRepository) Refresh(ctx context.Context, lockType repository.LockType, lockKey string, ttl time.Duration, ownerID string) error {
	if err := validateLockArgs(lockType, lockKey, ownerID); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if ttl > maxLockTTL {
		ttl = maxLockTTL
	}

	now := nowUTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE distributed_locks SET expires_at = ?, updated_at = ?
		WHERE lock_type = ? AND lock_key = ? AND owner_id = ? AND expires_at > ?`,
		formatTime(now.Add(ttl)), formatTime(now), string(lockType), lockKey, ownerID, formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrLockNotAcquired
	}
	return nil
}

// IsHeld checks if a lock is currently held.
func (r *LockRepository) IsHeld(ctx context.Context, lockType repository.LockType, lockKey string) (bool, string, error) {
	if err := repository.ValidateLock(lockType, lockKey); err != nil {
		return false, "", err
	}

	var ownerID string
	err := r.db.QueryRowContext(ctx,
		`SELECT owner_id FROM distributed_locks WHERE lock_type = ? AND lock_key = ? AND expires_at > ?`,
		string(lockType), lockKey, formatTime(nowUTC())).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to check lock: %w", err)
	}
	return true, ownerID, nil
}

// CleanupExpired removes expired locks from the database.
func (r *LockRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM distributed_locks WHERE expires_at <= ?`, formatTime(nowUTC()))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired locks: %w", err)
	}
	return result.RowsAffected()
}
