package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/merchstream/catalogd/internal/blob"
	"github.com/merchstream/catalogd/internal/catalog"
	"github.com/merchstream/catalogd/internal/config"
	"github.com/merchstream/catalogd/internal/ingest"
	"github.com/merchstream/catalogd/internal/logging"
	"github.com/merchstream/catalogd/internal/queue"
	"github.com/merchstream/catalogd/internal/upload"
	"github.com/merchstream/catalogd/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"queue_workers", cfg.Queue.Workers,
		"storage_dir", cfg.Upload.StorageDir,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// Blob storage for uploaded files
	blobs, err := blob.NewLocalStore(cfg.Upload.StorageDir)
	if err != nil {
		slog.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}

	uploads := upload.NewPGStore(pool)

	// Ingestion job and its worker pool
	job := &ingest.Job{
		Uploads: uploads,
		Catalog: catalog.NewPGStore(pool),
		Blobs:   blobs,
	}
	q := queue.New(job, cfg.Queue.Workers, cfg.Queue.Depth)

	// Cancellable context for background workers
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	q.Start(jobCtx)

	server := web.NewServer(uploads, blobs, q, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Drain in-flight ingestion jobs before pulling the workers' context
		if err := q.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ingestion jobs did not drain in time", "error", err)
		}
		cancelJobs()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
