package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// TestLoad_DefaultConfiguration tests loading config with only the required secret set
func TestLoad_DefaultConfiguration(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("TOKEN_SIGNING_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.DBBackend != "sqlite" {
		t.Errorf("DBBackend = %s, want sqlite", cfg.DBBackend)
	}
	if cfg.DBPath != "./partstream.db" {
		t.Errorf("DBPath = %s, want ./partstream.db", cfg.DBPath)
	}
	if cfg.StorageBackend != "filesystem" {
		t.Errorf("StorageBackend = %s, want filesystem", cfg.StorageBackend)
	}
	if cfg.PartTokenTTL != 10*time.Minute {
		t.Errorf("PartTokenTTL = %s, want 10m", cfg.PartTokenTTL)
	}
	if cfg.MaxTokenBatch != 20 {
		t.Errorf("MaxTokenBatch = %d, want 20", cfg.MaxTokenBatch)
	}
	if cfg.DefaultPartSize != 10*mib {
		t.Errorf("DefaultPartSize = %d, want %d", cfg.DefaultPartSize, 10*mib)
	}
	if cfg.MinPartSize != 5*mib {
		t.Errorf("MinPartSize = %d, want %d", cfg.MinPartSize, 5*mib)
	}
	if cfg.MaxPartSize != 100*mib {
		t.Errorf("MaxPartSize = %d, want %d", cfg.MaxPartSize, 100*mib)
	}
	if cfg.MaxFileSize != 5*1024*mib {
		t.Errorf("MaxFileSize = %d, want %d", cfg.MaxFileSize, int64(5*1024*mib))
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %s, want 24h", cfg.SessionTTL)
	}
	if cfg.SessionRetention != 168*time.Hour {
		t.Errorf("SessionRetention = %s, want 168h", cfg.SessionRetention)
	}
	if cfg.CompletionRetries != 3 {
		t.Errorf("CompletionRetries = %d, want 3", cfg.CompletionRetries)
	}
	if cfg.CompletionBackoff != 200*time.Millisecond {
		t.Errorf("CompletionBackoff = %s, want 200ms", cfg.CompletionBackoff)
	}
	if cfg.StoreTimeout != 30*time.Second {
		t.Errorf("StoreTimeout = %s, want 30s", cfg.StoreTimeout)
	}
	if cfg.ReaperDryRun {
		t.Error("ReaperDryRun = true, want false")
	}
	if cfg.GetRateLimitInit() != 100 {
		t.Errorf("RateLimitInit = %d, want 100", cfg.GetRateLimitInit())
	}

	// Check some expected default blocked extensions
	for _, expected := range []string{".exe", ".bat", ".cmd", ".scr", ".vbs"} {
		found := false
		for _, ext := range cfg.BlockedExtensions {
			if ext == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected default extension %s not found in blocked extensions", expected)
		}
	}
}

// TestLoad_CustomConfiguration tests loading config with custom environment variables
func TestLoad_CustomConfiguration(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("TOKEN_SIGNING_SECRET", testSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DB_BACKEND", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_MAX_CONNS", "50")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "uploads")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_PATH_STYLE", "yes")
	t.Setenv("DEFAULT_PART_SIZE", "8388608")
	t.Setenv("BLOCKED_EXTENSIONS", "EXE, msi")
	t.Setenv("REAPER_DRY_RUN", "on")
	t.Setenv("COMPLETION_RETRIES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.MaxConns != 50 {
		t.Errorf("Postgres = %+v, want host db.internal and 50 conns", cfg.Postgres)
	}
	if cfg.S3.Bucket != "uploads" || cfg.S3.Endpoint != "http://minio:9000" || !cfg.S3.PathStyle {
		t.Errorf("S3 = %+v, unexpected", cfg.S3)
	}
	if cfg.DefaultPartSize != 8*mib {
		t.Errorf("DefaultPartSize = %d, want %d", cfg.DefaultPartSize, 8*mib)
	}
	if strings.Join(cfg.BlockedExtensions, ",") != ".exe,.msi" {
		t.Errorf("BlockedExtensions = %v, want [.exe .msi]", cfg.BlockedExtensions)
	}
	if !cfg.ReaperDryRun {
		t.Error("ReaperDryRun = false, want true")
	}
	if cfg.CompletionRetries != 5 {
		t.Errorf("CompletionRetries = %d, want 5", cfg.CompletionRetries)
	}
}

// TestLoad_ValidationErrors tests that invalid combinations are rejected
func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing signing secret",
			env:     map[string]string{"TOKEN_SIGNING_SECRET": ""},
			wantErr: "TOKEN_SIGNING_SECRET",
		},
		{
			name:    "short signing secret",
			env:     map[string]string{"TOKEN_SIGNING_SECRET": "too-short"},
			wantErr: "TOKEN_SIGNING_SECRET",
		},
		{
			name:    "unknown db backend",
			env:     map[string]string{"DB_BACKEND": "mysql"},
			wantErr: "DB_BACKEND",
		},
		{
			name:    "unknown storage backend",
			env:     map[string]string{"STORAGE_BACKEND": "gcs"},
			wantErr: "STORAGE_BACKEND",
		},
		{
			name:    "s3 without bucket",
			env:     map[string]string{"STORAGE_BACKEND": "s3"},
			wantErr: "S3_BUCKET",
		},
		{
			name:    "s3 half credentials",
			env:     map[string]string{"STORAGE_BACKEND": "s3", "S3_BUCKET": "b", "S3_ACCESS_KEY_ID": "id"},
			wantErr: "S3_ACCESS_KEY_ID",
		},
		{
			name:    "default part size below minimum",
			env:     map[string]string{"DEFAULT_PART_SIZE": "1024"},
			wantErr: "DEFAULT_PART_SIZE",
		},
		{
			name:    "max part size below minimum",
			env:     map[string]string{"MAX_PART_SIZE": "1024"},
			wantErr: "MAX_PART_SIZE",
		},
		{
			name:    "zero token batch",
			env:     map[string]string{"MAX_TOKEN_BATCH": "0"},
			wantErr: "MAX_TOKEN_BATCH",
		},
		{
			name:    "negative retries",
			env:     map[string]string{"COMPLETION_RETRIES": "-1"},
			wantErr: "COMPLETION_RETRIES",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"LOG_LEVEL": "verbose"},
			wantErr: "LOG_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv("TOKEN_SIGNING_SECRET", testSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("Load() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

// TestGetEnvBool tests boolean environment variable parsing
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"true lowercase", "true", false, true},
		{"true uppercase", "TRUE", false, true},
		{"1", "1", false, true},
		{"yes", "yes", false, true},
		{"on", "on", false, true},
		{"false lowercase", "false", true, false},
		{"0", "0", true, false},
		{"no", "no", true, false},
		{"off uppercase", "OFF", true, false},
		{"invalid value uses default true", "invalid", true, true},
		{"invalid value uses default false", "invalid", false, false},
		{"empty uses default true", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				os.Setenv("TEST_BOOL", tt.value)
				defer os.Unsetenv("TEST_BOOL")
			}

			got := getEnvBool("TEST_BOOL", tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.defaultValue, got, tt.want)
			}
		})
	}
}

// TestGetEnvInt64 tests int64 environment variable parsing
func TestGetEnvInt64(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue int64
		want         int64
	}{
		{"large value", "5368709120", 10, 5368709120},
		{"invalid uses default", "5GB", 10, 10},
		{"empty uses default", "", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				os.Setenv("TEST_INT64", tt.value)
				defer os.Unsetenv("TEST_INT64")
			}

			got := getEnvInt64("TEST_INT64", tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt64(%q, %d) = %d, want %d", tt.value, tt.defaultValue, got, tt.want)
			}
		})
	}
}

// TestGetEnvList tests extension list normalization
func TestGetEnvList(t *testing.T) {
	os.Setenv("TEST_LIST", " exe, .BAT ,,js")
	defer os.Unsetenv("TEST_LIST")

	got := getEnvList("TEST_LIST", "")
	want := []string{".exe", ".bat", ".js"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("getEnvList() = %v, want %v", got, want)
	}

	if empty := getEnvList("TEST_LIST_UNSET", ""); len(empty) != 0 {
		t.Errorf("getEnvList() with empty default = %v, want empty", empty)
	}
}

// clearEnvVars clears all partstream-related environment variables
func clearEnvVars(t *testing.T) {
	t.Helper()
	envVars := []string{
		"PORT", "LOG_LEVEL", "DB_BACKEND", "DB_PATH",
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD",
		"POSTGRES_DB", "POSTGRES_SSLMODE", "POSTGRES_MAX_CONNS",
		"STORAGE_BACKEND", "STORAGE_DIR", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
		"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_PATH_STYLE",
		"TOKEN_SIGNING_SECRET", "PART_TOKEN_TTL_MINUTES", "MAX_TOKEN_BATCH",
		"DEFAULT_PART_SIZE", "MIN_PART_SIZE", "MAX_PART_SIZE", "MAX_FILE_SIZE",
		"BLOCKED_EXTENSIONS", "SESSION_TTL_HOURS", "SESSION_RETENTION_HOURS",
		"REAPER_INTERVAL_MINUTES", "REAPER_DRY_RUN", "COMPLETION_RETRIES",
		"COMPLETION_BACKOFF_MS", "STORE_TIMEOUT_SECONDS",
		"READ_TIMEOUT", "WRITE_TIMEOUT", "PUBLIC_URL", "RATE_LIMIT_INIT",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
