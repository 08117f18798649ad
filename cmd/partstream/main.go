package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/handlers"
	"github.com/fjmerc/partstream/internal/metrics"
	"github.com/fjmerc/partstream/internal/middleware"
	"github.com/fjmerc/partstream/internal/multipart"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/repository/postgres"
	"github.com/fjmerc/partstream/internal/repository/sqlite"
	"github.com/fjmerc/partstream/internal/storage"
	"github.com/fjmerc/partstream/internal/storage/filesystem"
	"github.com/fjmerc/partstream/internal/storage/s3"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting partstream",
		"port", cfg.Port,
		"db_backend", cfg.DBBackend,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"default_part_size", cfg.DefaultPartSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer repos.Close()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	codec, err := multipart.NewTokenCodec([]byte(cfg.TokenSigningSecret), nil)
	if err != nil {
		slog.Error("failed to initialize token codec", "error", err)
		os.Exit(1)
	}

	svc := multipart.NewService(repos, store, codec, multipart.OptionsFromConfig(cfg))
	slog.Info("upload service ready", "native_multipart", svc.Native())

	prometheus.MustRegister(metrics.NewSessionMetricsCollector(repos.Sessions))

	initLimiter := middleware.NewRateLimiter(cfg.GetRateLimitInit(), time.Hour)
	defer initLimiter.Stop()

	startTime := time.Now()
	router := handlers.NewRouter(handlers.Deps{
		Config:      cfg,
		Repos:       repos,
		Service:     svc,
		InitLimiter: initLimiter,
		StartTime:   startTime,
	})

	// Reap abandoned sessions in the background
	reaper := multipart.NewReaper(svc, repos.APITokens, multipart.ReaperOptions{
		Enabled:   cfg.ReaperIntervalMinutes > 0,
		Age:       cfg.SessionTTL,
		Retention: cfg.SessionRetention,
		Interval:  time.Duration(cfg.ReaperIntervalMinutes) * time.Minute,
		DryRun:    cfg.ReaperDryRun,
	})
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.Run(ctx)
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start HTTP server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		cancel()
		<-reaperDone
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig)

		// Stop the reaper before the store and database go away
		cancel()
		<-reaperDone

		// Give outstanding requests 30 seconds to complete; completions can be slow
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				slog.Error("server close failed", "error", err)
			}
			os.Exit(1)
		}

		slog.Info("server shutdown complete")
	}
}

// parseLogLevel maps LOG_LEVEL to a slog level, defaulting to info
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openRepositories connects to the configured database and runs migrations
func openRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	switch cfg.DBBackend {
	case "postgres":
		return postgres.NewRepositories(ctx, cfg.Postgres)
	case "sqlite", "":
		db, err := sqlite.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return sqlite.NewRepositories(db)
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.DBBackend)
	}
}

// openStore creates the configured object store
func openStore(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "s3":
		store, err := s3.NewS3Storage(ctx, s3.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "filesystem", "":
		store, err := filesystem.NewFilesystemStorage(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
