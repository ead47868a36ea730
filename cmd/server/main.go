// Package main runs the findings engine behind the HTTP API, backed by
// PostgreSQL, an optional Redis cache and optional NATS notifications.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/internal/api"
	"github.com/mammography-findings-server/internal/cache"
	"github.com/mammography-findings-server/internal/config"
	"github.com/mammography-findings-server/internal/database"
	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/feedback"
	"github.com/mammography-findings-server/internal/logging"
	"github.com/mammography-findings-server/internal/metrics"
	"github.com/mammography-findings-server/internal/notify"
	"github.com/mammography-findings-server/internal/repository"
	"github.com/mammography-findings-server/internal/rules"
	"github.com/mammography-findings-server/internal/service"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(configManager, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func run(configManager *config.Manager, logger *logrus.Logger) error {
	cfg := configManager.GetConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	ruleSet, err := rules.FromConfig(cfg.Engine)
	if err != nil {
		return err
	}

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger); err != nil {
		return err
	}

	healthChecks := map[string]api.HealthCheck{"database": db.Health}

	var resultCache domain.ResultCache
	if configManager.GetRedisConnectionString() != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		resultCache = redisCache
		healthChecks["redis"] = redisCache.Ping
	} else {
		memCache, err := cache.NewMemoryCache(cfg.Cache.MaxItems, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		resultCache = memCache
	}

	engineMetrics := metrics.NewEngineMetrics()
	evaluator := service.NewEvaluationService(logger, ruleSet).
		WithCache(resultCache, cfg.Cache.DefaultTTL).
		WithMetrics(engineMetrics)

	reviews, err := feedback.NewPostgresStoreFromURL(configManager.GetDatabaseURL())
	if err != nil {
		return err
	}
	defer reviews.Close()

	deps := api.Dependencies{
		Evaluator:    evaluator,
		Parser:       service.NewDetectionParser(cfg.Engine.DetectionConfidence),
		Repository:   repository.NewEvaluationRepository(db.Pool, logger),
		Reviews:      reviews,
		Metrics:      engineMetrics,
		HealthChecks: healthChecks,
		Logger:       logger,
	}

	if cfg.NATS.Enabled() {
		notifier, err := notify.Connect(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer notifier.Close()
		deps.Publisher = notifier
	}

	server, err := api.NewServer(configManager, deps)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"host":          cfg.Server.Host,
		"port":          cfg.Server.Port,
		"rules_version": ruleSet.Version,
		"production":    configManager.IsProduction(),
	}).Info("Starting mammography findings server")

	return server.Start(ctx)
}
