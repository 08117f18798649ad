// Package testutil provides shared fixtures for tests that need a database,
// configuration, an upload service or authenticated requests.
package testutil

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/repository/sqlite"
)

// TestSigningSecret is a valid TOKEN_SIGNING_SECRET for tests
const TestSigningSecret = "test-signing-secret-0123456789abcdef"

// MiB is a convenience size unit for tests
const MiB = 1024 * 1024

// SetupTestDB creates an in-memory SQLite database for testing
// The database is automatically closed when the test completes
func SetupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	// Each connection in the pool gets its own separate :memory: database,
	// so force a single connection
	db.SetMaxOpenConns(1)

	if err := sqlite.RunMigrations(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SetupTestRepos returns SQLite-backed repositories over a fresh in-memory database
func SetupTestRepos(t testing.TB) *repository.Repositories {
	t.Helper()

	repos, err := sqlite.NewRepositories(SetupTestDB(t))
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}
	return repos
}

// SetupTestConfig creates a test configuration with temporary directories
// and sizes small enough for fast tests
func SetupTestConfig(t testing.TB) *config.Config {
	t.Helper()

	t.Setenv("TOKEN_SIGNING_SECRET", TestSigningSecret)
	t.Setenv("STORAGE_DIR", t.TempDir())
	t.Setenv("DB_PATH", ":memory:")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	cfg.MinPartSize = 1024
	cfg.DefaultPartSize = 4 * 1024
	cfg.MaxPartSize = 1 * MiB
	cfg.MaxFileSize = 64 * MiB
	cfg.BlockedExtensions = []string{".exe", ".bat", ".cmd", ".sh", ".ps1"}
	cfg.CompletionRetries = 2
	cfg.CompletionBackoff = time.Millisecond
	cfg.StoreTimeout = 5 * time.Second
	cfg.RateLimitInit = 1000

	return cfg
}

// RandomBytes returns n random bytes
func RandomBytes(t testing.TB, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("failed to generate random bytes: %v", err)
	}
	return b
}

// AssertStatusCode checks that the HTTP response status code matches expected
func AssertStatusCode(t *testing.T, rr *httptest.ResponseRecorder, wantStatus int) {
	t.Helper()

	if rr.Code != wantStatus {
		t.Errorf("status code = %d, want %d\nBody: %s", rr.Code, wantStatus, rr.Body.String())
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()

	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()

	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertContains fails the test if haystack doesn't contain needle
func AssertContains(t *testing.T, haystack, needle string) {
	t.Helper()

	if !bytes.Contains([]byte(haystack), []byte(needle)) {
		t.Errorf("expected %q to contain %q", haystack, needle)
	}
}
