package multipart

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/fjmerc/partstream/internal/metrics"
	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/storage"
	"github.com/fjmerc/partstream/internal/utils"
)

// Complete stitches the claimed parts into the final object.
//
// Completion is serialized per upload by the completion lock and the
// open→completing transition. Validation failures return the session to
// open so the client can correct the part list; permanent store failures
// and integrity failures abort it.
func (s *Service) Complete(ctx context.Context, ownerID string, req models.UploadCompleteRequest) (*models.StoredObject, error) {
	start := time.Now()

	session, err := s.loadOwned(ctx, ownerID, req.UploadID)
	if err != nil {
		return nil, err
	}
	if req.ObjectKey != session.ObjectKey {
		return nil, fmt.Errorf("%w: object key does not match upload", ErrForbidden)
	}
	if err := stateError(session.State); err != nil {
		metrics.CompletionsTotal.WithLabelValues(completionResult(err)).Inc()
		return nil, err
	}

	lock := utils.NewDistributedLock(s.locks, repository.LockTypeCompletion, session.UploadID, utils.CompletionLockTTL)
	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		metrics.CompletionsTotal.WithLabelValues("in_progress").Inc()
		return nil, ErrCompletionInProgress
	}
	stopKeepAlive := lock.KeepAlive(context.WithoutCancel(ctx))
	defer func() {
		stopKeepAlive()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			slog.Warn("failed to release completion lock", "upload_id", session.UploadID, "error", err)
		}
	}()

	ok, err := s.sessions.TransitionState(ctx, session.UploadID, models.SessionOpen, models.SessionCompleting)
	if err != nil {
		return nil, fmt.Errorf("failed to begin completion: %w", err)
	}
	if !ok {
		err := s.currentStateError(ctx, session.UploadID)
		metrics.CompletionsTotal.WithLabelValues(completionResult(err)).Inc()
		return nil, err
	}

	// The critical section runs to the end even if the client goes away, so
	// the session never stays in completing because of a dropped connection.
	ctx = context.WithoutCancel(ctx)

	obj, err := s.complete(ctx, session, req.Parts)
	metrics.CompletionsTotal.WithLabelValues(completionResult(err)).Inc()
	if err != nil {
		return nil, err
	}
	metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	return obj, nil
}

// complete runs inside the critical section with the session in completing.
func (s *Service) complete(ctx context.Context, session *models.UploadSession, claims []models.PartReceipt) (*models.StoredObject, error) {
	parts, err := s.validateParts(ctx, session, claims)
	if err != nil {
		slog.Info("completion rejected",
			"upload_id", session.UploadID,
			"error", err,
		)
		s.reopen(ctx, session)
		return nil, err
	}

	var total int64
	for _, p := range parts {
		total += p.Size
	}

	var info *storage.ObjectInfo
	if session.Native {
		info, err = s.stitchNative(ctx, session, parts)
	} else {
		info, err = s.stitchManual(ctx, session, parts)
	}
	if err != nil {
		var invalid *InvalidPartError
		if storage.IsTransient(err) || errors.As(err, &invalid) {
			slog.Warn("completion failed, session reopened",
				"upload_id", session.UploadID,
				"error", err,
			)
			s.reopen(ctx, session)
			return nil, err
		}
		slog.Error("completion failed",
			"upload_id", session.UploadID,
			"object_key", session.ObjectKey,
			"error", err,
		)
		s.abortFailed(ctx, session)
		return nil, err
	}

	if info.Size != total {
		mismatch := &SizeMismatchError{Expected: total, Actual: info.Size}
		slog.Error("completed object size mismatch",
			"upload_id", session.UploadID,
			"object_key", session.ObjectKey,
			"expected", total,
			"actual", info.Size,
		)
		if err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
			return s.store.Delete(ctx, session.ObjectKey)
		}); err != nil {
			slog.Warn("failed to remove mismatched object", "object_key", session.ObjectKey, "error", err)
		}
		s.abortFailed(ctx, session)
		return nil, mismatch
	}

	if !session.Native {
		s.deleteTempParts(ctx, session)
	}

	if err := s.sessions.MarkCompleted(ctx, session.UploadID, info.ETag, total); err != nil {
		return nil, fmt.Errorf("failed to mark upload completed: %w", err)
	}

	// Content type may have been replaced by sniffing part 1
	contentType := session.ContentType
	if current, err := s.sessions.GetByUploadID(ctx, session.UploadID); err == nil {
		contentType = current.ContentType
	}

	obj := &models.StoredObject{
		ObjectKey:   session.ObjectKey,
		OwnerID:     session.OwnerID,
		Filename:    session.Filename,
		ContentType: contentType,
		TotalSize:   total,
		ETag:        info.ETag,
		UploadID:    session.UploadID,
		UploadedAt:  time.Now().UTC(),
	}
	if err := s.objects.Upsert(ctx, obj); err != nil {
		return nil, fmt.Errorf("failed to record stored object: %w", err)
	}

	slog.Info("upload completed",
		"upload_id", session.UploadID,
		"object_key", session.ObjectKey,
		"parts", len(parts),
		"total_size", total,
		"native", session.Native,
	)
	return obj, nil
}

// validateParts deduplicates, orders and checks the claimed parts against
// the part registry. The returned parts are sorted and contiguous from 1.
func (s *Service) validateParts(ctx context.Context, session *models.UploadSession, claims []models.PartReceipt) ([]models.PartReceipt, error) {
	if len(claims) == 0 {
		return nil, &MissingPartError{Expected: 1}
	}

	for number, group := range lo.GroupBy(claims, partNumberOf) {
		if len(lo.UniqBy(group, func(p models.PartReceipt) string { return p.ETag })) > 1 {
			slog.Warn("conflicting duplicate part claims, keeping the last",
				"upload_id", session.UploadID,
				"part_number", number,
				"claims", len(group),
			)
		}
	}

	// KeyBy keeps the last claim per part number
	parts := lo.Values(lo.KeyBy(claims, partNumberOf))
	slices.SortFunc(parts, func(a, b models.PartReceipt) int {
		return cmp.Compare(a.PartNumber, b.PartNumber)
	})

	if parts[0].PartNumber < 1 {
		return nil, &InvalidPartError{PartNumber: parts[0].PartNumber, Reason: "part numbers start at 1"}
	}
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return nil, &MissingPartError{Expected: i + 1}
		}
	}
	if session.TotalParts > 0 {
		if len(parts) < session.TotalParts {
			return nil, &MissingPartError{Expected: len(parts) + 1}
		}
		if len(parts) > session.TotalParts {
			return nil, &InvalidPartError{PartNumber: session.TotalParts + 1, Reason: "beyond the planned part count"}
		}
	}

	registered, err := s.sessions.ListParts(ctx, session.UploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	stored := lo.KeyBy(registered, func(p models.UploadPart) int { return p.PartNumber })

	for i, p := range parts {
		if p.ETag == "" {
			return nil, &InvalidPartError{PartNumber: p.PartNumber, Reason: "missing etag"}
		}
		rec, ok := stored[p.PartNumber]
		if !ok {
			return nil, &InvalidPartError{PartNumber: p.PartNumber, Reason: "part was never uploaded"}
		}
		if rec.ETag != p.ETag {
			return nil, &InvalidPartError{PartNumber: p.PartNumber, Reason: "etag does not match the stored part"}
		}
		if rec.Size != p.Size {
			return nil, &InvalidPartError{PartNumber: p.PartNumber, Reason: "size does not match the stored part"}
		}
		if i < len(parts)-1 && p.Size != session.PartSize {
			return nil, &InvalidPartError{PartNumber: p.PartNumber, Reason: "only the last part may be shorter than the part size"}
		}
	}

	return parts, nil
}

func partNumberOf(p models.PartReceipt) int {
	return p.PartNumber
}

// stitchNative completes a store-native multipart upload and stats the result.
func (s *Service) stitchNative(ctx context.Context, session *models.UploadSession, parts []models.PartReceipt) (*storage.ObjectInfo, error) {
	completed := lo.Map(parts, func(p models.PartReceipt, _ int) storage.CompletedPart {
		return storage.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag}
	})

	err := s.retryStore(ctx, "CompleteMultipart", func(ctx context.Context, attempt int) error {
		_, err := s.native.CompleteMultipart(ctx, session.ObjectKey, session.UploadID, completed)
		if err != nil && attempt > 0 && storage.IsNotFound(err) {
			// An earlier attempt may have finished after its response was lost
			if _, statErr := s.store.Stat(ctx, session.ObjectKey); statErr == nil {
				return nil
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	var info *storage.ObjectInfo
	err = s.retryStore(ctx, "Stat", func(ctx context.Context, _ int) error {
		var err error
		info, err = s.store.Stat(ctx, session.ObjectKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// stitchManual concatenates temp parts into one atomic Put of the final object.
func (s *Service) stitchManual(ctx context.Context, session *models.UploadSession, parts []models.PartReceipt) (*storage.ObjectInfo, error) {
	opts := objectPutOptions(session)
	if current, err := s.sessions.GetByUploadID(ctx, session.UploadID); err == nil {
		opts.ContentType = current.ContentType
	}

	var info *storage.ObjectInfo
	err := s.retryStore(ctx, "Put", func(ctx context.Context, _ int) error {
		readers := make([]io.Reader, 0, len(parts))
		closers := make([]io.Closer, 0, len(parts))
		defer func() {
			for _, c := range closers {
				c.Close()
			}
		}()

		for _, p := range parts {
			rc, stored, err := s.store.Get(ctx, tempPartKey(session.ObjectKey, p.PartNumber))
			if err != nil {
				if storage.IsNotFound(err) {
					return &InvalidPartError{PartNumber: p.PartNumber, Reason: "stored part is missing"}
				}
				return err
			}
			closers = append(closers, rc)
			if stored.ETag != p.ETag || stored.Size != p.Size {
				return &InvalidPartError{PartNumber: p.PartNumber, Reason: "stored part changed after it was registered"}
			}
			readers = append(readers, rc)
		}

		counter := &countingReader{r: io.MultiReader(readers...)}
		// Size is left unknown so a short or long concatenation is measured
		// here instead of being rejected inside the store.
		var err error
		info, err = s.store.Put(ctx, session.ObjectKey, counter, -1, opts)
		if err != nil {
			return err
		}
		info.Size = counter.n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// reopen returns a completing session to open after a recoverable failure.
func (s *Service) reopen(ctx context.Context, session *models.UploadSession) {
	if _, err := s.sessions.TransitionState(ctx, session.UploadID, models.SessionCompleting, models.SessionOpen); err != nil {
		slog.Error("failed to reopen upload session", "upload_id", session.UploadID, "error", err)
	}
}

// abortFailed moves a completing session to aborted and discards its parts.
func (s *Service) abortFailed(ctx context.Context, session *models.UploadSession) {
	if _, err := s.sessions.TransitionState(ctx, session.UploadID, models.SessionCompleting, models.SessionAborted); err != nil {
		slog.Error("failed to abort upload session", "upload_id", session.UploadID, "error", err)
		return
	}
	s.discardParts(ctx, session)
}

// completionResult labels a completion outcome for metrics.
func completionResult(err error) string {
	var missing *MissingPartError
	var invalid *InvalidPartError
	var mismatch *SizeMismatchError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &missing):
		return "missing_part"
	case errors.As(err, &invalid):
		return "invalid_part"
	case errors.As(err, &mismatch):
		return "integrity_failure"
	case errors.Is(err, ErrCompletionInProgress):
		return "in_progress"
	case errors.Is(err, ErrSessionCompleted), errors.Is(err, ErrSessionAborted):
		return "terminal_session"
	case storage.IsTransient(err):
		return "store_unavailable"
	default:
		return "error"
	}
}
