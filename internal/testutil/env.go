package testutil

import (
	"testing"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/multipart"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/storage"
	"github.com/fjmerc/partstream/internal/storage/filesystem"
	storageMock "github.com/fjmerc/partstream/internal/storage/mock"
)

// TestEnv bundles a configured upload service with its collaborators.
type TestEnv struct {
	Config  *config.Config
	Repos   *repository.Repositories
	Store   storage.Backend
	Codec   *multipart.TokenCodec
	Service *multipart.Service
}

// EnvOption customizes SetupTestService
type EnvOption func(*envSettings)

type envSettings struct {
	store     storage.Backend
	configure []func(*config.Config)
}

// WithStore uses store instead of the default in-memory multipart mock
func WithStore(store storage.Backend) EnvOption {
	return func(s *envSettings) {
		s.store = store
	}
}

// WithConfig adjusts the test config before the service is built
func WithConfig(fn func(cfg *config.Config)) EnvOption {
	return func(s *envSettings) {
		s.configure = append(s.configure, fn)
	}
}

// NewFilesystemStore returns a filesystem backend rooted in a temp directory
func NewFilesystemStore(t testing.TB) *filesystem.FilesystemStorage {
	t.Helper()

	fs, err := filesystem.NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create filesystem storage: %v", err)
	}
	return fs
}

// SetupTestService builds a service over in-memory repositories. Without
// options the store is a mock with native multipart support.
func SetupTestService(t testing.TB, opts ...EnvOption) *TestEnv {
	t.Helper()

	settings := &envSettings{}
	for _, opt := range opts {
		opt(settings)
	}
	if settings.store == nil {
		settings.store = storageMock.NewMultipartStorage()
	}

	cfg := SetupTestConfig(t)
	for _, fn := range settings.configure {
		fn(cfg)
	}
	repos := SetupTestRepos(t)

	codec, err := multipart.NewTokenCodec([]byte(cfg.TokenSigningSecret), nil)
	if err != nil {
		t.Fatalf("failed to create token codec: %v", err)
	}

	return &TestEnv{
		Config:  cfg,
		Repos:   repos,
		Store:   settings.store,
		Codec:   codec,
		Service: multipart.NewService(repos, settings.store, codec, multipart.OptionsFromConfig(cfg)),
	}
}
