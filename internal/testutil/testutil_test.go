package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/utils"
)

func TestSetupTestConfig(t *testing.T) {
	cfg := SetupTestConfig(t)

	if cfg.TokenSigningSecret != TestSigningSecret {
		t.Errorf("signing secret not applied")
	}
	if cfg.DefaultPartSize < cfg.MinPartSize || cfg.DefaultPartSize > cfg.MaxPartSize {
		t.Errorf("default part size %d outside [%d, %d]", cfg.DefaultPartSize, cfg.MinPartSize, cfg.MaxPartSize)
	}
}

func TestCreateSession(t *testing.T) {
	repos := SetupTestRepos(t)
	old := time.Now().Add(-48 * time.Hour).UTC()

	s := CreateSession(t, repos,
		WithOwner("user-9"),
		WithUploadID("up-9"),
		WithState(models.SessionAborted),
		WithLastActivity(old),
		WithSize(10*1024, 4*1024),
	)

	got, err := repos.Sessions.GetByUploadID(context.Background(), "up-9")
	AssertNoError(t, err)
	AssertEqual(t, got.OwnerID, "user-9")
	AssertEqual(t, got.ObjectKey, s.ObjectKey)
	AssertEqual(t, got.State, models.SessionAborted)
	AssertEqual(t, got.TotalParts, 3)
	if got.LastActivity.Sub(old).Abs() > time.Millisecond {
		t.Errorf("last activity = %v, want %v", got.LastActivity, old)
	}
}

func TestCreateAPIToken(t *testing.T) {
	repos := SetupTestRepos(t)

	token := CreateAPIToken(t, repos, "user-1")
	if !utils.ValidateAPITokenFormat(token) {
		t.Fatalf("token %q has invalid format", token)
	}

	rec, err := repos.APITokens.GetByHash(context.Background(), utils.HashAPIToken(token))
	AssertNoError(t, err)
	AssertEqual(t, rec.OwnerID, "user-1")
}

func TestSetupTestService(t *testing.T) {
	env := SetupTestService(t)
	if !env.Service.Native() {
		t.Error("default environment should use a multipart-capable store")
	}

	fsEnv := SetupTestService(t, WithStore(NewFilesystemStore(t)))
	if fsEnv.Service.Native() {
		t.Error("filesystem environment should use temp-object parts")
	}
}

func TestSetupTestService_WithConfig(t *testing.T) {
	env := SetupTestService(t, WithConfig(func(cfg *config.Config) {
		cfg.MaxPartSize = 16 * MiB
	}))
	AssertEqual(t, env.Config.MaxPartSize, int64(16*MiB))
}
