package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sharedrive/config"
	"sharedrive/jobs"
	"sharedrive/metrics"
	"sharedrive/routes"
	"sharedrive/services"
	"sharedrive/store"
	"sharedrive/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env must be loaded before the config is read
	envPath, envErr := config.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(utils.LoggerOptions{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	switch {
	case envErr != nil:
		logger.Warn("failed to load .env file", "error", envErr)
	case envPath != "":
		logger.Info("loaded environment file", "path", envPath)
	default:
		logger.Info("no .env file found, using process environment")
	}
	cfg.Log(logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.Error("failed to disconnect MongoDB", "error", err)
		}
	}()

	if err := mongoClient.Ping(connectCtx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	logger.Info("connected to MongoDB", "database", cfg.DatabaseName)

	mongoStore := store.NewMongoStore(mongoClient.Database(cfg.DatabaseName))
	if err := mongoStore.EnsureIndexes(connectCtx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	blobs, err := newBlobStore(connectCtx, cfg, logger)
	if err != nil {
		return err
	}

	cache, err := services.NewBadgerCache(logger)
	if err != nil {
		// the cache is optional; every read falls through to the store
		logger.Warn("metadata cache disabled", "error", err)
	} else {
		defer cache.Close()
	}

	m := metrics.New()

	var backend services.CacheBackend
	if cache != nil {
		backend = cache
	}
	container := routes.NewServiceContainer(cfg, mongoStore, blobs, backend, logger, m)
	router := routes.NewRouter(container)

	sweeperDone := make(chan struct{})
	if cfg.OrphanSweepInterval > 0 {
		sweeper := jobs.NewOrphanSweeper(mongoStore, blobs, container.QuotaLedger, cfg.OrphanSweepInterval, logger, m)
		go func() {
			defer close(sweeperDone)
			sweeper.Run(ctx)
		}()
	} else {
		close(sweeperDone)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	err = srv.Shutdown(shutdownCtx)

	// Mongo is disconnected by a deferred call; background writers finish first.
	if derr := container.PermissionService.Drain(shutdownCtx); derr != nil {
		logger.Warn("abandoning pending share notifications", "error", derr)
	}
	select {
	case <-sweeperDone:
	case <-shutdownCtx.Done():
		logger.Warn("orphan sweeper did not stop before shutdown deadline")
	}
	return err
}

func newBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.BlobStore, error) {
	switch cfg.BlobBackend {
	case "s3":
		return services.NewS3Service(ctx, services.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		}, logger)
	default:
		return services.NewB2Service(ctx, cfg.B2ApplicationKeyID, cfg.B2ApplicationKey, cfg.B2BucketName, logger)
	}
}
