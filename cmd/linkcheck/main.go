package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/timmy/curator/internal/config"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/logger"
	"github.com/timmy/curator/internal/repository"
	"github.com/timmy/curator/internal/service"
	"github.com/timmy/curator/internal/storage"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stderr,
		ServiceName: "curator-linkcheck",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	filterFlag := flag.String("filter", "", "Print the last report instead of running a check (all, healthy, broken)")
	workers := flag.Int("workers", 0, "Override link_health.workers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *workers > 0 {
		cfg.LinkHealth.Workers = *workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = appLogger.WithContext(ctx)

	// Handle interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received interrupt signal, cancelling link check...")
		cancel()
	}()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	var redisClient *redis.Client
	if cfg.Settings.Backend == "redis" {
		redisClient, err = repository.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer redisClient.Close()
	}

	settings, err := repository.NewSettingsStore(cfg.Settings.Backend, db, redisClient)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize settings store")
	}

	var archive service.ReportArchiver
	if cfg.Archive.Enabled {
		store, err := storage.NewBucketStore(ctx, &cfg.Archive)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize report archive")
		}
		archive = storage.NewReportArchive(store, cfg.Archive.Prefix)
	}

	linkHealthService := service.NewLinkHealthService(
		repository.NewResourceRepository(db),
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

	var report *domain.LinkHealthReport
	if *filterFlag != "" {
		filter, err := domain.ParseLinkFilter(*filterFlag)
		if err != nil {
			appLogger.WithError(err).Fatal("Invalid -filter")
		}
		report, err = linkHealthService.GetResults(ctx, filter)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to load last report")
		}
		if report == nil {
			appLogger.Warn("No link health run recorded yet")
			return
		}
	} else {
		report, err = linkHealthService.CheckLinks(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Link check failed")
		}
		appLogger.WithFields(logger.Fields{
			"total":   report.TotalChecked,
			"healthy": report.Healthy,
			"broken":  report.Broken,
			"timeout": report.Timeout,
		}).Info("Link check completed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
		os.Exit(1)
	}
}
