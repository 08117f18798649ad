// Package utils provides helpers shared by the HTTP layer and the upload service.
package utils

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/partstream/internal/repository"
)

// Default lock configuration values.
const (
	// DefaultLockTTL is the default time-to-live for locks.
	DefaultLockTTL = 10 * time.Minute

	// CompletionLockTTL bounds how long a crashed completer can block others.
	CompletionLockTTL = 15 * time.Minute

	// ReaperLockTTL is the TTL for the reaper sweep lock.
	ReaperLockTTL = 15 * time.Minute
)

var (
	processOwner     string
	processOwnerOnce sync.Once
)

// GetOwnerID returns an identifier for this process: hostname:pid:nonce.
func GetOwnerID() string {
	processOwnerOnce.Do(func() {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		processOwner = fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()[:8])
	})
	return processOwner
}

// DistributedLock wraps one lock row. Each instance has its own owner id, so
// two goroutines in the same process contend like two processes would.
type DistributedLock struct {
	repo     repository.LockRepository
	lockType repository.LockType
	lockKey  string
	ownerID  string
	ttl      time.Duration
	acquired bool
	mu       sync.Mutex
}

// NewDistributedLock creates a new distributed lock wrapper.
func NewDistributedLock(repo repository.LockRepository, lockType repository.LockType, lockKey string, ttl time.Duration) *DistributedLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &DistributedLock{
		repo:     repo,
		lockType: lockType,
		lockKey:  lockKey,
		ownerID:  GetOwnerID() + ":" + uuid.NewString(),
		ttl:      ttl,
	}
}

// TryAcquire attempts to acquire the lock without blocking.
// With no repository configured the lock always succeeds (single node).
func (l *DistributedLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.repo == nil {
		l.acquired = true
		return true, nil
	}

	acquired, _, err := l.repo.TryAcquire(ctx, l.lockType, l.lockKey, l.ttl, l.ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.acquired = acquired
	return acquired, nil
}

// Release releases the lock if held.
func (l *DistributedLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.acquired {
		return nil
	}
	l.acquired = false

	if l.repo == nil {
		return nil
	}

	if err := l.repo.Release(ctx, l.lockType, l.lockKey, l.ownerID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Refresh extends the lock TTL during long operations.
func (l *DistributedLock) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.acquired {
		return repository.ErrLockNotAcquired
	}
	if l.repo == nil {
		return nil
	}

	if err := l.repo.Refresh(ctx, l.lockType, l.lockKey, l.ttl, l.ownerID); err != nil {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}
	return nil
}

// KeepAlive refreshes the lock every third of its TTL until the returned
// stop func is called. Refresh failures are logged and the lock may lapse.
func (l *DistributedLock) KeepAlive(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("failed to refresh lock",
						"lock_type", l.lockType,
						"lock_key", l.lockKey,
						"error", err,
					)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// IsAcquired returns whether the lock is currently held.
func (l *DistributedLock) IsAcquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}

// OwnerID returns the owner id this lock acquires under.
func (l *DistributedLock) OwnerID() string {
	return l.ownerID
}

// TryWithLock runs fn while holding the lock.
// If the lock cannot be acquired immediately, returns (false, nil).
// If fn runs, returns (true, error from fn).
func TryWithLock(ctx context.Context, repo repository.LockRepository, lockType repository.LockType, lockKey string, ttl time.Duration, fn func() error) (bool, error) {
	lock := NewDistributedLock(repo, lockType, lockKey, ttl)

	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	defer func() {
		// Release even if ctx was cancelled during fn
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			slog.Warn("failed to release lock", "lock_type", lockType, "lock_key", lockKey, "error", err)
		}
	}()

	return true, fn()
}

// CleanupExpiredLocks removes expired lock rows and logs the result.
func CleanupExpiredLocks(ctx context.Context, repo repository.LockRepository) int64 {
	if repo == nil {
		return 0
	}
	cleaned, err := repo.CleanupExpired(ctx)
	if err != nil {
		slog.Error("failed to cleanup expired locks", "error", err)
		return 0
	}
	if cleaned > 0 {
		slog.Info("cleaned up expired locks", "count", cleaned)
	}
	return cleaned
}
