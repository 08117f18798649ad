package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fjmerc/partstream/internal/repository"
)

// maxLockTTL caps lock lifetimes.
const maxLockTTL = 24 * time.Hour

// LockRepository implements repository.LockRepository with rows in
// distributed_locks. Locks survive connection loss and expire by TTL, so
// every instance behind the same database sees the same holder.
type LockRepository struct {
	pool *Pool
}

// NewLockRepository creates a new PostgreSQL lock repository.
func NewLockRepository(pool *Pool) *LockRepository {
	return &LockRepository{pool: pool}
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

// TryAcquire inserts the lock row, taking over an expired row or refreshing
// one already held by ownerID in the same statement.
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

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	var acquiredAt time.Time
	err := r.pool.QueryRow(ctx, `
		INSERT INTO distributed_locks (lock_type, lock_key, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lock_type, lock_key) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			acquired_at = CASE WHEN distributed_locks.owner_id = EXCLUDED.owner_id
				THEN distributed_locks.acquired_at ELSE EXCLUDED.acquired_at END,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.acquired_at
		WHERE distributed_locks.expires_at <= EXCLUDED.acquired_at
			OR distributed_locks.owner_id = EXCLUDED.owner_id
		RETURNING acquired_at`,
		string(lockType), lockKey, ownerID, now, expiresAt).Scan(&acquiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to acquire lock: %w", err)
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
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM distributed_locks WHERE lock_type = $1 AND lock_key = $2 AND owner_id = $3`,
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

	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE distributed_locks SET expires_at = $1, updated_at = $2
		WHERE lock_type = $3 AND lock_key = $4 AND owner_id = $5 AND expires_at > $2`,
		now.Add(ttl), now, string(lockType), lockKey, ownerID)
	if err != nil {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	err := r.pool.QueryRow(ctx,
		`SELECT owner_id FROM distributed_locks WHERE lock_type = $1 AND lock_key = $2 AND expires_at > NOW()`,
		string(lockType), lockKey).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to check lock: %w", err)
	}
	return true, ownerID, nil
}

// CleanupExpired removes expired locks from the database.
func (r *LockRepository) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM distributed_locks WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
