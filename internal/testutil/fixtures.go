package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/utils"
)

// SessionOption customizes a session created by CreateSession
type SessionOption func(*models.UploadSession)

// WithUploadID sets the upload ID and derives a matching object key
func WithUploadID(id string) SessionOption {
	return func(s *models.UploadSession) {
		s.UploadID = id
		s.ObjectKey = "files/" + s.OwnerID + "/" + id + ".bin"
	}
}

// WithOwner sets the session owner
func WithOwner(ownerID string) SessionOption {
	return func(s *models.UploadSession) {
		s.OwnerID = ownerID
	}
}

// WithState sets the session state
func WithState(state models.SessionState) SessionOption {
	return func(s *models.UploadSession) {
		s.State = state
	}
}

// WithLastActivity backdates the session
func WithLastActivity(at time.Time) SessionOption {
	return func(s *models.UploadSession) {
		s.CreatedAt = at
		s.LastActivity = at
	}
}

// WithSize sets the expected size and part layout
func WithSize(size, partSize int64) SessionOption {
	return func(s *models.UploadSession) {
		s.ExpectedSize = size
		s.PartSize = partSize
		s.TotalParts = int((size + partSize - 1) / partSize)
	}
}

// SampleSession returns an open session owned by "user-1"
func SampleSession() *models.UploadSession {
	now := time.Now().UTC()
	return &models.UploadSession{
		UploadID:     "upload-" + now.Format("150405.000000000"),
		ObjectKey:    "files/user-1/1700000000000-abcdef.bin",
		OwnerID:      "user-1",
		Filename:     "sample.bin",
		ContentType:  "application/octet-stream",
		ExpectedSize: 10 * 1024,
		PartSize:     4 * 1024,
		TotalParts:   3,
		State:        models.SessionOpen,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// CreateSession persists a sample session with opts applied
func CreateSession(t testing.TB, repos *repository.Repositories, opts ...SessionOption) *models.UploadSession {
	t.Helper()

	s := SampleSession()
	for _, opt := range opts {
		opt(s)
	}
	if err := repos.Sessions.Create(context.Background(), s); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return s
}

// SampleObject returns a completed object record owned by ownerID
func SampleObject(ownerID, key string, size int64) *models.StoredObject {
	return &models.StoredObject{
		ObjectKey:   key,
		OwnerID:     ownerID,
		Filename:    "sample.bin",
		ContentType: "application/octet-stream",
		TotalSize:   size,
		ETag:        "etag-" + key,
		UploadedAt:  time.Now().UTC(),
	}
}

// CreateAPIToken stores a fresh API token for ownerID and returns the
// plaintext bearer value
func CreateAPIToken(t testing.TB, repos *repository.Repositories, ownerID string) string {
	t.Helper()

	token, prefix, err := utils.GenerateAPIToken()
	if err != nil {
		t.Fatalf("failed to generate api token: %v", err)
	}
	rec := &models.APIToken{
		OwnerID:     ownerID,
		Name:        "test token",
		TokenHash:   utils.HashAPIToken(token),
		TokenPrefix: prefix,
	}
	if err := repos.APITokens.Create(context.Background(), rec); err != nil {
		t.Fatalf("failed to store api token: %v", err)
	}
	return token
}
