package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/auth"
	"github.com/eriker75/onenglish-sub002/internal/cleanup"
	"github.com/eriker75/onenglish-sub002/internal/config"
	"github.com/eriker75/onenglish-sub002/internal/file"
	"github.com/eriker75/onenglish-sub002/internal/logger"
	"github.com/eriker75/onenglish-sub002/internal/metrics"
	"github.com/eriker75/onenglish-sub002/internal/server"
	"github.com/eriker75/onenglish-sub002/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	zl, err := logger.Init()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		zl.Fatal("load config", zap.Error(err))
	}

	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openMetadataStore(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("open metadata store", zap.String("driver", cfg.Metadata.Driver), zap.Error(err))
	}
	defer closeRepo()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		zl.Fatal("open storage backend", zap.String("mode", cfg.Storage.Mode), zap.Error(err))
	}

	cached := file.NewCachedStore(repo, cfg.Metadata.CacheSize, cfg.Metadata.CacheTTL)
	fileService := file.NewService(cached, backend,
		file.WithLogger(zl),
		file.WithMaxFileSize(cfg.Storage.MaxUploadSize),
		file.WithOperationTimeout(cfg.Storage.OperationTimeout),
		file.WithBackupDir(cfg.Storage.BackupDir),
		file.WithDeferredDelete(cfg.Storage.DeferOldDelete),
	)

	cleanup.RunPeriodic(ctx, sweepTargets(cfg), cfg.Storage.SweepTTL, cfg.Storage.SweepInterval, zl)

	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		verifier, err = auth.NewVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			zl.Fatal("init token verifier", zap.Error(err))
		}
	}

	router := server.NewRouter(server.Dependencies{
		Config:      cfg,
		FileService: fileService,
		Verifier:    verifier,
		Checks: []server.Check{
			{Component: cfg.Metadata.Driver, Pinger: repo},
			{Component: cfg.Storage.Mode, Pinger: backend},
		},
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zl.Info("file service listening",
			zap.String("addr", cfg.Server.Address()),
			zap.String("storage", cfg.Storage.Mode),
			zap.String("metadata", cfg.Metadata.Driver),
			zap.Bool("auth", verifier != nil))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	zl.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}

type metadataStore interface {
	file.MetadataStore
	server.Pinger
}

type backendStore interface {
	file.Backend
	server.Pinger
}

func openMetadataStore(ctx context.Context, cfg config.Config, zl *zap.Logger) (metadataStore, func(), error) {
	switch cfg.Metadata.Driver {
	case config.DriverSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.Metadata.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return file.NewSQLiteStore(db), func() { db.Close() }, nil
	case config.DriverPostgres:
		if err := storage.Migrate(cfg.Postgres.DSN(), zl); err != nil {
			return nil, nil, err
		}
		pool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return file.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata driver %q", cfg.Metadata.Driver)
	}
}

func openBackend(ctx context.Context, cfg config.Config) (backendStore, error) {
	switch cfg.Storage.Mode {
	case config.StorageModeLocal:
		return storage.NewLocal(cfg.Storage.LocalRoot, cfg.Storage.LocalBaseURL)
	case config.StorageModeS3:
		client, err := storage.NewMinIOClient(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := storage.EnsureBucket(ctx, client, cfg.S3.Bucket, cfg.S3.Region); err != nil {
			return nil, err
		}
		return storage.NewObjectStore(storage.NewMinIOAdapter(client), cfg.S3), nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Storage.Mode)
	}
}

func sweepTargets(cfg config.Config) []cleanup.Target {
	targets := []cleanup.Target{
		{Dir: cfg.Storage.BackupDir, Suffix: file.BackupSuffix},
		{Dir: cfg.Storage.UploadTempDir, Prefix: file.UploadSpoolPrefix},
	}
	if cfg.Storage.Mode == config.StorageModeLocal {
		targets = append(targets, cleanup.Target{Dir: cfg.Storage.LocalRoot, Prefix: storage.TempPrefix, Nested: true})
	}
	return targets
}
