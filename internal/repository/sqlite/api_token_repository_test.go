package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
)

// Helper to generate a valid token hash (64 hex chars = SHA-256)
func generateTokenHash(t *testing.T, token string) string {
	t.Helper()
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func TestAPITokenRepository_CreateAndGetByHash(t *testing.T) {
	repo := NewAPITokenRepository(setupTestDB(t))
	ctx := context.Background()

	token := &models.APIToken{
		OwnerID:     "alice",
		Name:        "laptop",
		TokenHash:   generateTokenHash(t, "pst_token-1"),
		TokenPrefix: "pst_abc12345",
	}
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if token.ID == 0 {
		t.Error("expected ID to be set after creation")
	}
	if !token.IsActive {
		t.Error("expected IsActive to be true")
	}

	got, err := repo.GetByHash(ctx, token.TokenHash)
	if err != nil {
		t.Fatalf("GetByHash failed: %v", err)
	}
	if got.OwnerID != "alice" || got.ExpiresAt != nil {
		t.Errorf("unexpected token: %+v", got)
	}

	if err := repo.Create(ctx, &models.APIToken{OwnerID: "bob", Name: "dup", TokenHash: token.TokenHash, TokenPrefix: "pst_x"}); !errors.Is(err, repository.ErrDuplicateKey) {
		t.Errorf("duplicate hash error = %v, want ErrDuplicateKey", err)
	}
}

func TestAPITokenRepository_Create_Validation(t *testing.T) {
	repo := NewAPITokenRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		token *models.APIToken
	}{
		{"nil", nil},
		{"missing owner", &models.APIToken{Name: "n", TokenHash: generateTokenHash(t, "a"), TokenPrefix: "pst_a"}},
		{"missing name", &models.APIToken{OwnerID: "o", TokenHash: generateTokenHash(t, "a"), TokenPrefix: "pst_a"}},
		{"short hash", &models.APIToken{OwnerID: "o", Name: "n", TokenHash: "abc", TokenPrefix: "pst_a"}},
		{"long prefix", &models.APIToken{OwnerID: "o", Name: "n", TokenHash: generateTokenHash(t, "a"), TokenPrefix: "pst_0123456789abcdef"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(ctx, tt.token); !errors.Is(err, repository.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAPITokenRepository_ExpiredAndRevoked(t *testing.T) {
	repo := NewAPITokenRepository(setupTestDB(t))
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	expired := &models.APIToken{OwnerID: "alice", Name: "old", TokenHash: generateTokenHash(t, "old"), TokenPrefix: "pst_old", ExpiresAt: &past}
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.GetByHash(ctx, expired.TokenHash); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expired token error = %v, want ErrNotFound", err)
	}

	live := &models.APIToken{OwnerID: "alice", Name: "live", TokenHash: generateTokenHash(t, "live"), TokenPrefix: "pst_live"}
	if err := repo.Create(ctx, live); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.UpdateLastUsed(ctx, live.ID); err != nil {
		t.Fatalf("UpdateLastUsed failed: %v", err)
	}
	if err := repo.Revoke(ctx, live.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := repo.GetByHash(ctx, live.TokenHash); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("revoked token error = %v, want ErrNotFound", err)
	}
	if err := repo.Revoke(ctx, 9999); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Revoke(9999) error = %v, want ErrNotFound", err)
	}

	tokens, err := repo.ListByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("len(tokens) = %d, want 2", len(tokens))
	}
	if tokens[0].ID != live.ID || tokens[0].LastUsedAt == nil {
		t.Errorf("expected newest token first with last_used_at set: %+v", tokens[0])
	}

	removed, err := repo.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
