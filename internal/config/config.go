package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	mib = 1024 * 1024

	// MinSigningSecretLength is the minimum accepted TOKEN_SIGNING_SECRET length in bytes
	MinSigningSecretLength = 32
)

// Config holds all application configuration
type Config struct {
	Port     string
	LogLevel string

	// Database
	DBBackend string // sqlite or postgres
	DBPath    string
	Postgres  PostgresConfig

	// Storage
	StorageBackend string // filesystem or s3
	StorageDir     string
	S3             S3Config

	// Part authorization
	TokenSigningSecret string
	PartTokenTTL       time.Duration
	MaxTokenBatch      int

	// Sizing
	DefaultPartSize int64
	MinPartSize     int64
	MaxPartSize     int64
	MaxFileSize     int64

	BlockedExtensions []string // File extensions rejected at init (e.g., .exe, .bat)

	// Session lifecycle
	SessionTTL            time.Duration
	SessionRetention      time.Duration
	ReaperIntervalMinutes int
	ReaperDryRun          bool

	// Completion
	CompletionRetries int
	CompletionBackoff time.Duration
	StoreTimeout      time.Duration

	ReadTimeoutSeconds  int
	WriteTimeoutSeconds int
	PublicURL           string // Optional: Override auto-detected URL for reverse proxy setups
	RateLimitInit       int    // Upload sessions per hour per user
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// S3Config holds S3-compatible object storage settings
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO and other S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	// Default blocked extensions for security
	defaultBlocked := ".exe,.bat,.cmd,.com,.pif,.scr,.vbs,.js"

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DBBackend: strings.ToLower(getEnv("DB_BACKEND", "sqlite")),
		DBPath:    getEnv("DB_PATH", "./partstream.db"),
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "partstream"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "partstream"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "prefer"),
			MaxConns: int32(getEnvInt("POSTGRES_MAX_CONNS", 25)),
		},
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "filesystem")),
		StorageDir:     getEnv("STORAGE_DIR", "./objects"),
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			PathStyle:       getEnvBool("S3_PATH_STYLE", false),
		},
		TokenSigningSecret:    getEnv("TOKEN_SIGNING_SECRET", ""),
		PartTokenTTL:          time.Duration(getEnvInt("PART_TOKEN_TTL_MINUTES", 10)) * time.Minute,
		MaxTokenBatch:         getEnvInt("MAX_TOKEN_BATCH", 20),
		DefaultPartSize:       getEnvInt64("DEFAULT_PART_SIZE", 10*mib),
		MinPartSize:           getEnvInt64("MIN_PART_SIZE", 5*mib),
		MaxPartSize:           getEnvInt64("MAX_PART_SIZE", 100*mib),
		MaxFileSize:           getEnvInt64("MAX_FILE_SIZE", 5*1024*mib),
		BlockedExtensions:     getEnvList("BLOCKED_EXTENSIONS", defaultBlocked),
		SessionTTL:            time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		SessionRetention:      time.Duration(getEnvInt("SESSION_RETENTION_HOURS", 168)) * time.Hour,
		ReaperIntervalMinutes: getEnvInt("REAPER_INTERVAL_MINUTES", 60),
		ReaperDryRun:          getEnvBool("REAPER_DRY_RUN", false),
		CompletionRetries:     getEnvInt("COMPLETION_RETRIES", 3),
		CompletionBackoff:     time.Duration(getEnvInt("COMPLETION_BACKOFF_MS", 200)) * time.Millisecond,
		StoreTimeout:          time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 30)) * time.Second,
		ReadTimeoutSeconds:    getEnvInt("READ_TIMEOUT", 120),
		WriteTimeoutSeconds:   getEnvInt("WRITE_TIMEOUT", 120),
		PublicURL:             getEnv("PUBLIC_URL", ""),
		RateLimitInit:         getEnvInt("RATE_LIMIT_INIT", 100),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// GetRateLimitInit returns the per-user upload session limit per hour
func (c *Config) GetRateLimitInit() int {
	return c.RateLimitInit
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	switch c.DBBackend {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.Postgres.Host == "" {
			return fmt.Errorf("POSTGRES_HOST cannot be empty")
		}
		if c.Postgres.MaxConns <= 0 {
			return fmt.Errorf("POSTGRES_MAX_CONNS must be positive, got %d", c.Postgres.MaxConns)
		}
	default:
		return fmt.Errorf("DB_BACKEND must be sqlite or postgres, got %q", c.DBBackend)
	}

	switch c.StorageBackend {
	case "filesystem":
		if c.StorageDir == "" {
			return fmt.Errorf("STORAGE_DIR cannot be empty")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
		if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be filesystem or s3, got %q", c.StorageBackend)
	}

	if len(c.TokenSigningSecret) < MinSigningSecretLength {
		return fmt.Errorf("TOKEN_SIGNING_SECRET must be at least %d bytes, got %d", MinSigningSecretLength, len(c.TokenSigningSecret))
	}

	if c.PartTokenTTL <= 0 {
		return fmt.Errorf("PART_TOKEN_TTL_MINUTES must be positive, got %s", c.PartTokenTTL)
	}

	if c.MaxTokenBatch <= 0 {
		return fmt.Errorf("MAX_TOKEN_BATCH must be positive, got %d", c.MaxTokenBatch)
	}

	if c.MinPartSize <= 0 {
		return fmt.Errorf("MIN_PART_SIZE must be positive, got %d", c.MinPartSize)
	}

	if c.MaxPartSize < c.MinPartSize {
		return fmt.Errorf("MAX_PART_SIZE (%d) cannot be less than MIN_PART_SIZE (%d)", c.MaxPartSize, c.MinPartSize)
	}

	if c.DefaultPartSize < c.MinPartSize || c.DefaultPartSize > c.MaxPartSize {
		return fmt.Errorf("DEFAULT_PART_SIZE (%d) must be between MIN_PART_SIZE (%d) and MAX_PART_SIZE (%d)", c.DefaultPartSize, c.MinPartSize, c.MaxPartSize)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive, got %s", c.SessionTTL)
	}

	if c.SessionRetention < 0 {
		return fmt.Errorf("SESSION_RETENTION_HOURS cannot be negative, got %s", c.SessionRetention)
	}

	if c.ReaperIntervalMinutes <= 0 {
		return fmt.Errorf("REAPER_INTERVAL_MINUTES must be positive, got %d", c.ReaperIntervalMinutes)
	}

	if c.CompletionRetries < 0 {
		return fmt.Errorf("COMPLETION_RETRIES cannot be negative, got %d", c.CompletionRetries)
	}

	if c.CompletionBackoff <= 0 {
		return fmt.Errorf("COMPLETION_BACKOFF_MS must be positive, got %s", c.CompletionBackoff)
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT_SECONDS must be positive, got %s", c.StoreTimeout)
	}

	if c.ReadTimeoutSeconds <= 0 || c.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("READ_TIMEOUT and WRITE_TIMEOUT must be positive")
	}

	if c.RateLimitInit <= 0 {
		return fmt.Errorf("RATE_LIMIT_INIT must be positive, got %d", c.RateLimitInit)
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// Accepts true/1/yes/on and false/0/no/off, case-insensitive.
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvList retrieves a comma-separated list of file extensions from an environment variable
func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			// Ensure extensions start with a dot
			if !strings.HasPrefix(trimmed, ".") {
				trimmed = "." + trimmed
			}
			result = append(result, strings.ToLower(trimmed))
		}
	}

	return result
}
