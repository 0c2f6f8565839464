package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/timmy/curator/internal/api"
	"github.com/timmy/curator/internal/api/handler"
	"github.com/timmy/curator/internal/config"
	"github.com/timmy/curator/internal/logger"
	"github.com/timmy/curator/internal/metrics"
	"github.com/timmy/curator/internal/repository"
	"github.com/timmy/curator/internal/service"
	"github.com/timmy/curator/internal/storage"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = appLogger.WithContext(ctx)

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get sql.DB")
	}
	defer sqlDB.Close()

	healthChecks := map[string]handler.HealthCheck{
		"database": sqlDB.PingContext,
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = repository.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer redisClient.Close()
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	settings, err := repository.NewSettingsStore(cfg.Settings.Backend, db, redisClient)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize settings store")
	}

	resourceRepo := repository.NewResourceRepository(db)
	jobRepo := repository.NewJobRepository(db)

	fetcher := service.NewPageFetcher(cfg.Analysis.PageTimeout, cfg.Analysis.MaxPageBytes, cfg.LinkHealth.UserAgent)
	analysisService := service.NewAnalysisService(&service.AnalysisConfig{
		Model:   cfg.Analysis.Model,
		APIKey:  cfg.Analysis.APIKey,
		BaseURL: cfg.Analysis.BaseURL,
		Timeout: cfg.Analysis.Timeout,
	}, fetcher)
	appLogger.WithField("model", analysisService.GetModel()).Info("Content analysis configured")

	var analyzer service.Analyzer = analysisService
	if redisClient != nil {
		analyzer = service.NewCachedAnalyzer(analyzer, redisClient, cfg.Analysis.CacheTTL)
	}

	enrichmentService := service.NewEnrichmentService(
		jobRepo,
		resourceRepo,
		analyzer,
		appLogger,
		&service.EnrichmentConfig{
			ItemDelay:   cfg.Enrichment.ItemDelay,
			BackoffBase: cfg.Enrichment.BackoffBase,
			MaxAttempts: cfg.Enrichment.MaxAttempts,
		},
	)

	archive, err := newReportArchive(ctx, &cfg.Archive)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize report archive")
	}

	linkHealthService := service.NewLinkHealthService(
		resourceRepo,
		repository.NewLinkHealthStore(settings),
		archive,
		appLogger,
		&service.LinkHealthConfig{
			Workers:      cfg.LinkHealth.Workers,
			Timeout:      cfg.LinkHealth.Timeout,
			HistoryLimit: cfg.LinkHealth.HistoryLimit,
			UserAgent:    cfg.LinkHealth.UserAgent,
		},
	)

	metrics.MustRegister()

	if n, err := enrichmentService.ResumeInterrupted(ctx); err != nil {
		appLogger.WithError(err).Error("Failed to resume interrupted enrichment jobs")
	} else if n > 0 {
		appLogger.WithField(logger.FieldCount, n).Info("Resumed interrupted enrichment jobs")
	}

	go func() {
		if err := linkHealthService.RunPeriodic(ctx, cfg.LinkHealth.ScheduleInterval); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.WithError(err).Error("Link health scheduler stopped")
		}
	}()

	router := api.SetupRouter(&cfg.Server, api.Dependencies{
		Enrichment:   enrichmentService,
		LinkHealth:   linkHealthService,
		HealthChecks: healthChecks,
		Logger:       appLogger,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// running jobs stay processing and resume on the next start
	enrichmentService.Close()

	appLogger.Info("Server exited")
}

// newReportArchive returns nil when archiving is disabled.
func newReportArchive(ctx context.Context, cfg *config.ArchiveConfig) (service.ReportArchiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := storage.NewBucketStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure archive bucket: %w", err)
	}
	return storage.NewReportArchive(store, cfg.Prefix), nil
}
