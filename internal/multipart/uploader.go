package multipart

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fjmerc/partstream/internal/metrics"
	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/storage"
)

// sniffLength is how much of part 1 is inspected for content detection
const sniffLength = 3072

// UploadPart verifies token, stores body as the part it authorizes, and
// registers the part. size is the declared body length, or -1 when unknown.
//
// Store failures are returned as-is, so transient ones stay recognizable
// with storage.IsTransient; retrying is the client's job.
func (s *Service) UploadPart(ctx context.Context, token string, body io.Reader, size int64) (*models.PartReceipt, error) {
	start := time.Now()

	auth, err := s.codec.Verify(token)
	if err != nil {
		metrics.TokenRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	switch {
	case size == 0:
		return nil, ErrEmptyPart
	case size > s.opts.MaxPartSize:
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPartTooLarge, size, s.opts.MaxPartSize)
	case size < 0:
		// Unknown length: buffer up to the limit so the checks above still apply
		data, err := io.ReadAll(io.LimitReader(body, s.opts.MaxPartSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read part body: %w", err)
		}
		if len(data) == 0 {
			return nil, ErrEmptyPart
		}
		if int64(len(data)) > s.opts.MaxPartSize {
			return nil, fmt.Errorf("%w: body exceeds limit of %d", ErrPartTooLarge, s.opts.MaxPartSize)
		}
		body, size = bytes.NewReader(data), int64(len(data))
	}

	session, err := s.loadSession(ctx, auth.UploadID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != auth.OwnerID || session.ObjectKey != auth.ObjectKey {
		return nil, ErrForbidden
	}
	if err := stateError(session.State); err != nil {
		return nil, err
	}
	if session.TotalParts > 0 && auth.PartNumber > session.TotalParts {
		return nil, fmt.Errorf("%w: %d exceeds part count %d", ErrInvalidPartNumber, auth.PartNumber, session.TotalParts)
	}

	reader := bufio.NewReaderSize(body, sniffLength)
	var head []byte
	if auth.PartNumber == 1 && isGenericContentType(session.ContentType) {
		// Peek reports short reads as errors; whatever was buffered is still usable
		head, _ = reader.Peek(sniffLength)
		head = bytes.Clone(head)
	}

	// Part writes stream the request body, so they are bounded by the HTTP
	// server's read timeout rather than the store timeout.
	etag, err := s.storePart(ctx, session, auth.PartNumber, reader, size)
	if err != nil {
		slog.Error("failed to store part",
			"upload_id", session.UploadID,
			"part_number", auth.PartNumber,
			"transient", storage.IsTransient(err),
			"error", err,
		)
		return nil, err
	}

	part := &models.UploadPart{
		UploadID:   session.UploadID,
		PartNumber: auth.PartNumber,
		ETag:       etag,
		Size:       size,
	}
	if err := s.sessions.PutPart(ctx, part); err != nil {
		if errors.Is(err, repository.ErrConcurrentModification) || errors.Is(err, repository.ErrNotFound) {
			// Completion or abort won the race while the body was streaming
			return nil, s.rejectLatePart(ctx, session, auth.PartNumber)
		}
		return nil, fmt.Errorf("failed to register part: %w", err)
	}

	if len(head) > 0 {
		s.detectContentType(ctx, session, head)
	}

	metrics.PartsUploadedTotal.Inc()
	metrics.PartBytesTotal.Add(float64(size))
	metrics.PartUploadDuration.Observe(time.Since(start).Seconds())

	slog.Debug("part stored",
		"upload_id", session.UploadID,
		"part_number", auth.PartNumber,
		"size", size,
		"etag", etag,
	)

	return &models.PartReceipt{PartNumber: auth.PartNumber, ETag: etag, Size: size}, nil
}

// storePart writes one part through the session's completion path and returns its ETag.
func (s *Service) storePart(ctx context.Context, session *models.UploadSession, n int, r io.Reader, size int64) (string, error) {
	if session.Native {
		if s.native == nil {
			return "", fmt.Errorf("upload %s requires a multipart-capable store", session.UploadID)
		}
		return s.native.UploadPart(ctx, session.ObjectKey, session.UploadID, n, r, size)
	}

	info, err := s.store.Put(ctx, tempPartKey(session.ObjectKey, n), r, size, storage.PutOptions{
		ContentType: defaultContentType,
	})
	if err != nil {
		return "", err
	}
	return info.ETag, nil
}

// rejectLatePart handles a part stored after its session stopped accepting parts.
// In a terminal session the temp object would be an orphan, so it is removed. A
// completing session still owns its temp parts; completion checks their ETags.
func (s *Service) rejectLatePart(ctx context.Context, session *models.UploadSession, n int) error {
	err := s.currentStateError(ctx, session.UploadID)
	slog.Warn("part arrived after session closed",
		"upload_id", session.UploadID,
		"part_number", n,
		"error", err,
	)
	if session.Native || errors.Is(err, ErrCompletionInProgress) {
		return err
	}

	key := tempPartKey(session.ObjectKey, n)
	derr := s.withStoreTimeout(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, key)
	})
	if derr != nil && !storage.IsNotFound(derr) {
		slog.Warn("failed to delete late part", "upload_id", session.UploadID, "key", key, "error", derr)
	}
	return err
}

// detectContentType replaces a generic session content type with one sniffed from part 1.
func (s *Service) detectContentType(ctx context.Context, session *models.UploadSession, head []byte) {
	detected := mimetype.Detect(head).String()
	if isGenericContentType(detected) {
		return
	}
	if err := s.sessions.UpdateContentType(ctx, session.UploadID, detected); err != nil {
		slog.Warn("failed to store detected content type",
			"upload_id", session.UploadID,
			"content_type", detected,
			"error", err,
		)
		return
	}
	slog.Debug("content type detected", "upload_id", session.UploadID, "content_type", detected)
}

func isGenericContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return ct == "" || ct == defaultContentType || ct == "binary/octet-stream"
}

// rejectionReason labels a token verification failure for metrics.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "malformed"
	}
}
