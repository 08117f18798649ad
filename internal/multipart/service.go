// Package multipart coordinates large uploads that arrive as independently
// authorized parts: session lifecycle, part tokens, part persistence,
// completion and the reaper that cleans up after abandoned sessions.
//
// Each session uses exactly one completion path, chosen when it is created:
// stores implementing storage.MultipartBackend stitch parts natively, any
// other store receives parts as temporary objects that are concatenated
// into the final object on completion.
package multipart

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/metrics"
	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/partplan"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/storage"
	"github.com/fjmerc/partstream/internal/utils"
)

const (
	defaultContentType = "application/octet-stream"
	objectCacheControl = "private, max-age=31536000"
)

// Options configures a Service.
type Options struct {
	PartTokenTTL      time.Duration
	MaxTokenBatch     int
	DefaultPartSize   int64
	MinPartSize       int64
	MaxPartSize       int64
	MaxFileSize       int64
	BlockedExtensions []string
	SessionTTL        time.Duration
	CompletionRetries int
	CompletionBackoff time.Duration
	StoreTimeout      time.Duration
}

// OptionsFromConfig extracts the service options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PartTokenTTL:      cfg.PartTokenTTL,
		MaxTokenBatch:     cfg.MaxTokenBatch,
		DefaultPartSize:   cfg.DefaultPartSize,
		MinPartSize:       cfg.MinPartSize,
		MaxPartSize:       cfg.MaxPartSize,
		MaxFileSize:       cfg.MaxFileSize,
		BlockedExtensions: cfg.BlockedExtensions,
		SessionTTL:        cfg.SessionTTL,
		CompletionRetries: cfg.CompletionRetries,
		CompletionBackoff: cfg.CompletionBackoff,
		StoreTimeout:      cfg.StoreTimeout,
	}
}

// Service implements the server side of multipart uploads.
type Service struct {
	sessions repository.UploadSessionRepository
	objects  repository.ObjectRepository
	locks    repository.LockRepository

	store  storage.Backend
	native storage.MultipartBackend // nil when store has no multipart primitives

	codec *TokenCodec
	opts  Options
}

// NewService wires the service to its repositories, store and token codec.
func NewService(repos *repository.Repositories, store storage.Backend, codec *TokenCodec, opts Options) *Service {
	s := &Service{
		sessions: repos.Sessions,
		objects:  repos.Objects,
		locks:    repos.Locks,
		store:    store,
		codec:    codec,
		opts:     opts,
	}
	if mb, ok := store.(storage.MultipartBackend); ok {
		s.native = mb
	}
	return s
}

// Native reports whether new sessions use the store's multipart primitives.
func (s *Service) Native() bool {
	return s.native != nil
}

// Store returns the backing object store.
func (s *Service) Store() storage.Backend {
	return s.store
}

// SessionExpiry returns when an idle session becomes eligible for reaping.
func (s *Service) SessionExpiry(session *models.UploadSession) time.Time {
	return session.LastActivity.Add(s.opts.SessionTTL)
}

// SessionStatus is a session together with its registered parts.
type SessionStatus struct {
	Session *models.UploadSession
	Parts   []models.UploadPart
}

// Init validates the request, allocates the object key and upload ID, and
// persists a new open session.
func (s *Service) Init(ctx context.Context, ownerID string, req models.UploadInitRequest) (*models.UploadSession, error) {
	session, err := s.newSession(ownerID, req)
	if err != nil {
		metrics.UploadSessionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if s.native != nil {
		err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
			id, err := s.native.CreateMultipart(ctx, session.ObjectKey, objectPutOptions(session))
			session.UploadID = id
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart upload: %w", err)
		}
		if err := validateUploadID(session.UploadID); err != nil {
			s.discardNative(ctx, session)
			return nil, err
		}
		session.Native = true
	} else {
		session.UploadID = uuid.NewString()
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		if session.Native {
			s.discardNative(ctx, session)
		}
		return nil, fmt.Errorf("failed to persist upload session: %w", err)
	}

	metrics.UploadSessionsTotal.WithLabelValues("created").Inc()
	slog.Info("upload session created",
		"upload_id", session.UploadID,
		"object_key", session.ObjectKey,
		"owner_id", ownerID,
		"filename", session.Filename,
		"expected_size", session.ExpectedSize,
		"part_size", session.PartSize,
		"total_parts", session.TotalParts,
		"native", session.Native,
	)

	return session, nil
}

// newSession validates an init request and builds the session to persist.
func (s *Service) newSession(ownerID string, req models.UploadInitRequest) (*models.UploadSession, error) {
	if ownerID == "" {
		return nil, ErrForbidden
	}

	if err := utils.ValidateFilename(req.Filename); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilename, req.Filename)
	}
	filename := utils.SanitizeFilename(req.Filename)
	if allowed, ext := utils.IsFileAllowed(filename, s.opts.BlockedExtensions); !allowed {
		slog.Warn("blocked file extension at upload init",
			"filename", filename,
			"extension", ext,
			"owner_id", ownerID,
		)
		return nil, fmt.Errorf("%w: %s", ErrBlockedExtension, ext)
	}

	switch {
	case req.Size == 0:
		return nil, ErrEmptyFile
	case req.Size < 0:
		return nil, fmt.Errorf("%w: size cannot be negative", ErrInvalidRequest)
	case req.Size > s.opts.MaxFileSize:
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, req.Size, s.opts.MaxFileSize)
	}

	partSize := req.PartSize
	if partSize == 0 {
		partSize = s.opts.DefaultPartSize
	}
	if partSize < s.opts.MinPartSize || partSize > s.opts.MaxPartSize {
		return nil, fmt.Errorf("%w: %d not between %d and %d", ErrInvalidPartSize, partSize, s.opts.MinPartSize, s.opts.MaxPartSize)
	}
	partSize = partplan.ChoosePartSize(req.Size, partSize)
	if partSize > s.opts.MaxPartSize {
		return nil, fmt.Errorf("%w: needs more than %d parts of at most %d bytes", ErrFileTooLarge, partplan.MaxParts, s.opts.MaxPartSize)
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	key, err := newObjectKey(ownerID, filename)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &models.UploadSession{
		ObjectKey:    key,
		OwnerID:      ownerID,
		Filename:     filename,
		ContentType:  contentType,
		ExpectedSize: req.Size,
		PartSize:     partSize,
		TotalParts:   partplan.Count(req.Size, partSize),
		State:        models.SessionOpen,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

// objectPutOptions returns the headers and metadata written with the final object.
func objectPutOptions(session *models.UploadSession) storage.PutOptions {
	return storage.PutOptions{
		ContentType:  session.ContentType,
		CacheControl: objectCacheControl,
		Metadata: map[string]string{
			"owner-id":    session.OwnerID,
			"filename":    session.Filename,
			"uploaded-at": strconv.FormatInt(session.CreatedAt.UnixMilli(), 10),
		},
	}
}

// newObjectKey returns files/{owner}/{unixMillis}-{random}.{ext}.
func newObjectKey(ownerID, filename string) (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate object key: %w", err)
	}

	key := fmt.Sprintf("files/%s/%d-%s", keySegment(ownerID), time.Now().UnixMilli(), hex.EncodeToString(b[:]))
	if ext := utils.GetFileExtension(filename); ext != "" {
		key += ext
	}
	return key, nil
}

// keySegment makes an owner ID safe to use as one path segment.
func keySegment(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// validateUploadID rejects store-issued IDs that cannot travel in tokens and
// URLs. S3 upload IDs may contain '/', so only control characters are refused.
func validateUploadID(id string) error {
	if id == "" || strings.ContainsAny(id, "\x00\r\n") {
		return fmt.Errorf("%w: store returned an unusable upload id", ErrInvalidRequest)
	}
	return nil
}

// IssuePartTokens signs tokens for one part or an inclusive range of parts.
func (s *Service) IssuePartTokens(ctx context.Context, ownerID string, req models.PartTokensRequest) ([]models.PartToken, error) {
	session, err := s.loadOwned(ctx, ownerID, req.UploadID)
	if err != nil {
		return nil, err
	}
	if req.ObjectKey != session.ObjectKey {
		return nil, fmt.Errorf("%w: object key does not match upload", ErrForbidden)
	}
	if err := stateError(session.State); err != nil {
		return nil, err
	}

	start, end, err := s.tokenRange(session, req)
	if err != nil {
		return nil, err
	}

	expiresAt := time.UnixMilli(s.codec.Now().Add(s.opts.PartTokenTTL).UnixMilli()).UTC()
	tokens := make([]models.PartToken, 0, end-start+1)
	for n := start; n <= end; n++ {
		token, err := s.codec.IssueAt(PartClaims{
			OwnerID:    session.OwnerID,
			ObjectKey:  session.ObjectKey,
			UploadID:   session.UploadID,
			PartNumber: n,
		}, expiresAt)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, models.PartToken{PartNumber: n, Token: token, ExpiresAt: expiresAt})
	}

	metrics.TokensIssuedTotal.Add(float64(len(tokens)))
	slog.Debug("part tokens issued",
		"upload_id", session.UploadID,
		"start_part", start,
		"end_part", end,
	)
	return tokens, nil
}

func (s *Service) tokenRange(session *models.UploadSession, req models.PartTokensRequest) (int, int, error) {
	start, end := req.StartPartNumber, req.EndPartNumber
	if req.PartNumber != 0 {
		if start != 0 || end != 0 {
			return 0, 0, fmt.Errorf("%w: part_number cannot be combined with a range", ErrInvalidRequest)
		}
		start, end = req.PartNumber, req.PartNumber
	}

	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("%w: range %d-%d", ErrInvalidPartNumber, start, end)
	}
	if end-start+1 > s.opts.MaxTokenBatch {
		return 0, 0, fmt.Errorf("%w: %d requested, limit is %d", ErrBatchTooLarge, end-start+1, s.opts.MaxTokenBatch)
	}
	if end > partplan.MaxParts || (session.TotalParts > 0 && end > session.TotalParts) {
		return 0, 0, fmt.Errorf("%w: %d exceeds part count", ErrInvalidPartNumber, end)
	}
	return start, end, nil
}

// Abort moves an open session to aborted and discards its stored parts.
// Discarding is best effort; leftovers are swept by the reaper.
func (s *Service) Abort(ctx context.Context, ownerID, uploadID string) (*models.UploadSession, error) {
	session, err := s.loadOwned(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	if err := stateError(session.State); err != nil {
		return nil, err
	}

	ok, err := s.sessions.TransitionState(ctx, uploadID, models.SessionOpen, models.SessionAborted)
	if err != nil {
		return nil, fmt.Errorf("failed to abort upload session: %w", err)
	}
	if !ok {
		return nil, s.currentStateError(ctx, uploadID)
	}

	s.discardParts(ctx, session)

	metrics.UploadSessionsTotal.WithLabelValues("aborted").Inc()
	slog.Info("upload session aborted", "upload_id", uploadID, "owner_id", ownerID)

	session.State = models.SessionAborted
	return session, nil
}

// Status returns the session and its registered parts.
func (s *Service) Status(ctx context.Context, ownerID, uploadID string) (*SessionStatus, error) {
	session, err := s.loadOwned(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	parts, err := s.sessions.ListParts(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	return &SessionStatus{Session: session, Parts: parts}, nil
}

// loadSession maps repository misses to ErrSessionNotFound.
func (s *Service) loadSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	if uploadID == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessions.GetByUploadID(ctx, uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load upload session: %w", err)
	}
	return session, nil
}

func (s *Service) loadOwned(ctx context.Context, ownerID, uploadID string) (*models.UploadSession, error) {
	session, err := s.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return session, nil
}

// stateError returns the error for operating on a session that is not open.
func stateError(state models.SessionState) error {
	switch state {
	case models.SessionOpen:
		return nil
	case models.SessionCompleting:
		return ErrCompletionInProgress
	case models.SessionCompleted:
		return ErrSessionCompleted
	case models.SessionAborted:
		return ErrSessionAborted
	default:
		return fmt.Errorf("unknown session state %q", state)
	}
}

// currentStateError reloads a session after a lost state CAS.
func (s *Service) currentStateError(ctx context.Context, uploadID string) error {
	session, err := s.loadSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := stateError(session.State); err != nil {
		return err
	}
	return ErrCompletionInProgress
}

// discardParts releases everything stored for a session that will not complete.
func (s *Service) discardParts(ctx context.Context, session *models.UploadSession) {
	if session.Native {
		s.discardNative(ctx, session)
		return
	}
	s.deleteTempParts(ctx, session)
}

func (s *Service) discardNative(ctx context.Context, session *models.UploadSession) {
	if s.native == nil {
		return
	}
	err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
		return s.native.AbortMultipart(ctx, session.ObjectKey, session.UploadID)
	})
	if err != nil && !storage.IsNotFound(err) {
		slog.Warn("failed to abort multipart upload",
			"upload_id", session.UploadID,
			"object_key", session.ObjectKey,
			"error", err,
		)
	}
}

// tempPartKey is where the temp-object path stores part n.
func tempPartKey(objectKey string, n int) string {
	return objectKey + ".part" + strconv.Itoa(n)
}

// tempPartPrefix matches every temp part of objectKey.
func tempPartPrefix(objectKey string) string {
	return objectKey + ".part"
}

// deleteTempParts removes temp part objects. It lists the store rather than
// the registry so parts whose registration failed are removed too.
func (s *Service) deleteTempParts(ctx context.Context, session *models.UploadSession) int {
	var objs []storage.ObjectInfo
	err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
		var err error
		objs, err = s.store.List(ctx, tempPartPrefix(session.ObjectKey))
		return err
	})
	if err != nil {
		slog.Warn("failed to list temp parts",
			"upload_id", session.UploadID,
			"object_key", session.ObjectKey,
			"error", err,
		)
		return 0
	}

	deleted := 0
	for _, obj := range objs {
		if _, ok := parseTempPartNumber(session.ObjectKey, obj.Key); !ok {
			continue
		}
		err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
			return s.store.Delete(ctx, obj.Key)
		})
		if err != nil {
			slog.Warn("failed to delete temp part",
				"upload_id", session.UploadID,
				"key", obj.Key,
				"error", err,
			)
			continue
		}
		deleted++
	}
	return deleted
}

// parseTempPartNumber extracts N from "{objectKey}.partN".
func parseTempPartNumber(objectKey, key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, tempPartPrefix(objectKey))
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || strconv.Itoa(n) != rest {
		return 0, false
	}
	return n, true
}

// withStoreTimeout runs one store call under the configured timeout.
func (s *Service) withStoreTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.opts.StoreTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return fn(ctx)
}
