package multipart

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjmerc/partstream/internal/metrics"
	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/utils"
)

// reaperLockKey is the single lock key shared by every instance's reaper
const reaperLockKey = "sweep"

// ReaperOptions configures the session reaper.
type ReaperOptions struct {
	Enabled   bool
	Age       time.Duration // idle time after which open or completing sessions are aborted
	Retention time.Duration // terminal session rows older than this are purged; 0 keeps them
	Interval  time.Duration
	DryRun    bool // log what would be reaped without changing anything
}

// SweepResult summarizes one reaper pass.
type SweepResult struct {
	Skipped      bool // another instance held the reaper lock
	IdleAborted  int
	StuckAborted int
	OrphanParts  int
	Purged       int
	LocksCleaned int64
	TokensPurged int64
}

// Reaper aborts abandoned sessions and removes what they leave behind.
type Reaper struct {
	svc    *Service
	tokens repository.APITokenRepository
	opts   ReaperOptions
	now    func() time.Time
}

// NewReaper creates a reaper for svc. tokens may be nil.
func NewReaper(svc *Service, tokens repository.APITokenRepository, opts ReaperOptions) *Reaper {
	return &Reaper{
		svc:    svc,
		tokens: tokens,
		opts:   opts,
		now:    time.Now,
	}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	if !r.opts.Enabled {
		slog.Info("session reaper disabled")
		return
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	slog.Info("session reaper started",
		"interval", r.opts.Interval,
		"age", r.opts.Age,
		"retention", r.opts.Retention,
		"dry_run", r.opts.DryRun,
	)

	r.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("session reaper shutting down")
			return
		case <-ticker.C:
			r.runSweep(ctx)
		}
	}
}

func (r *Reaper) runSweep(ctx context.Context) {
	start := time.Now()
	result, err := r.Sweep(ctx)
	duration := time.Since(start)

	if err != nil {
		slog.Error("reaper sweep failed", "error", err, "duration", duration)
		return
	}
	if result.Skipped {
		slog.Debug("reaper sweep skipped, another instance holds the lock")
		return
	}

	level := slog.LevelDebug
	if result.IdleAborted+result.StuckAborted+result.OrphanParts+result.Purged > 0 {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "reaper sweep completed",
		"idle_aborted", result.IdleAborted,
		"stuck_aborted", result.StuckAborted,
		"orphan_parts", result.OrphanParts,
		"purged", result.Purged,
		"locks_cleaned", result.LocksCleaned,
		"tokens_purged", result.TokensPurged,
		"dry_run", r.opts.DryRun,
		"duration", duration,
	)
}

// Sweep performs one pass under the cluster-wide reaper lock.
func (r *Reaper) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	ran, err := utils.TryWithLock(ctx, r.svc.locks, repository.LockTypeReaper, reaperLockKey, utils.ReaperLockTTL, func() error {
		return r.sweep(ctx, result)
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		result.Skipped = true
	}
	return result, nil
}

func (r *Reaper) sweep(ctx context.Context, result *SweepResult) error {
	now := r.now().UTC()
	cutoff := now.Add(-r.opts.Age)

	idle, err := r.svc.sessions.ListStale(ctx, models.SessionOpen, cutoff)
	if err != nil {
		return err
	}
	for i := range idle {
		if r.abortSession(ctx, &idle[i], models.SessionOpen) {
			result.IdleAborted++
			metrics.ReaperSessionsReapedTotal.WithLabelValues("idle").Inc()
		}
	}

	stuck, err := r.svc.sessions.ListStale(ctx, models.SessionCompleting, cutoff)
	if err != nil {
		return err
	}
	for i := range stuck {
		session := &stuck[i]
		held, owner, err := r.svc.locks.IsHeld(ctx, repository.LockTypeCompletion, session.UploadID)
		if err != nil {
			slog.Warn("failed to check completion lock", "upload_id", session.UploadID, "error", err)
			continue
		}
		if held {
			slog.Debug("completing session still locked", "upload_id", session.UploadID, "lock_owner", owner)
			continue
		}
		if r.abortSession(ctx, session, models.SessionCompleting) {
			result.StuckAborted++
			metrics.ReaperSessionsReapedTotal.WithLabelValues("stuck_completing").Inc()
		}
	}

	terminated, err := r.svc.sessions.ListTerminatedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range terminated {
		session := &terminated[i]
		if session.Native || r.opts.DryRun {
			continue
		}
		if n := r.svc.deleteTempParts(ctx, session); n > 0 {
			result.OrphanParts += n
			metrics.ReaperSessionsReapedTotal.WithLabelValues("orphan_part").Add(float64(n))
			slog.Info("orphan temp parts removed", "upload_id", session.UploadID, "count", n)
		}
	}

	if r.opts.Retention > 0 {
		expired, err := r.svc.sessions.ListTerminatedBefore(ctx, now.Add(-r.opts.Retention))
		if err != nil {
			return err
		}
		for _, session := range expired {
			if r.opts.DryRun {
				slog.Info("dry run: would purge session", "upload_id", session.UploadID, "state", session.State)
				continue
			}
			if err := r.svc.sessions.Delete(ctx, session.UploadID); err != nil {
				slog.Warn("failed to purge session", "upload_id", session.UploadID, "error", err)
				continue
			}
			result.Purged++
			metrics.ReaperSessionsReapedTotal.WithLabelValues("purged").Inc()
		}
	}

	if !r.opts.DryRun {
		result.LocksCleaned = utils.CleanupExpiredLocks(ctx, r.svc.locks)
		if r.tokens != nil {
			n, err := r.tokens.CleanupExpired(ctx)
			if err != nil {
				slog.Warn("failed to clean up expired api tokens", "error", err)
			}
			result.TokensPurged = n
		}
	}

	return nil
}

// abortSession moves a stale session to aborted and discards its parts.
// It reports whether this call performed the transition.
func (r *Reaper) abortSession(ctx context.Context, session *models.UploadSession, from models.SessionState) bool {
	if r.opts.DryRun {
		slog.Info("dry run: would abort session",
			"upload_id", session.UploadID,
			"state", from,
			"last_activity", session.LastActivity,
		)
		return false
	}

	ok, err := r.svc.sessions.TransitionState(ctx, session.UploadID, from, models.SessionAborted)
	if err != nil {
		slog.Warn("failed to abort stale session", "upload_id", session.UploadID, "error", err)
		return false
	}
	if !ok {
		return false
	}

	r.svc.discardParts(ctx, session)
	slog.Info("stale session aborted",
		"upload_id", session.UploadID,
		"object_key", session.ObjectKey,
		"state", from,
		"last_activity", session.LastActivity,
	)
	return true
}
