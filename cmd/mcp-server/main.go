// Package main runs the MCP server against the full service stack: reviews
// are stored in PostgreSQL and results cached in Redis when configured.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/internal/cache"
	"github.com/mammography-findings-server/internal/config"
	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/feedback"
	"github.com/mammography-findings-server/internal/logging"
	"github.com/mammography-findings-server/internal/mcp"
	"github.com/mammography-findings-server/internal/rules"
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
	logCfg := cfg.Logging
	if cfg.MCP.TransportType != "http" {
		logCfg.Output = "stderr"
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(configManager, logger); err != nil {
		logger.WithError(err).Fatal("MCP server failed")
	}
	logger.Info("Mammography findings MCP server stopped")
}

func run(configManager *config.Manager, logger *logrus.Logger) error {
	cfg := configManager.GetConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	ruleSet, err := rules.FromConfig(cfg.Engine)
	if err != nil {
		return err
	}

	reviews, err := feedback.NewPostgresStoreFromURL(configManager.GetDatabaseURL())
	if err != nil {
		return err
	}

	opts := []mcp.LiteServerOption{
		mcp.WithLogger(logger),
		mcp.WithRuleSet(ruleSet),
		mcp.WithReviewStore(reviews),
		mcp.WithImplementation(cfg.MCP.ServerName, cfg.MCP.ServerVersion),
	}

	if configManager.GetRedisConnectionString() != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Cache)
		if err != nil {
			reviews.Close()
			return err
		}
		defer redisCache.Close()
		opts = append(opts, mcp.WithResultCache(redisCache))
	}

	server, err := mcp.NewLiteServer(liteConfig(cfg), opts...)
	if err != nil {
		reviews.Close()
		return err
	}
	defer server.Close()

	return server.Start(ctx)
}

// liteConfig maps the full configuration onto the settings the MCP server
// reads directly.
func liteConfig(cfg *domain.Config) *config.LiteConfig {
	lite := config.DefaultLiteConfig()
	if cfg.MCP.DataDir != "" {
		lite.DataDir = cfg.MCP.DataDir
	}
	if cfg.MCP.TransportType != "" {
		lite.Transport = cfg.MCP.TransportType
	}
	if cfg.MCP.HTTPPort > 0 {
		lite.HTTPPort = cfg.MCP.HTTPPort
	}
	if cfg.Engine.Workers > 0 {
		lite.Workers = cfg.Engine.Workers
	}
	if cfg.Cache.MaxItems > 0 {
		lite.CacheMaxItems = cfg.Cache.MaxItems
	}
	if cfg.Cache.DefaultTTL > 0 {
		lite.CacheTTL = cfg.Cache.DefaultTTL
	}
	lite.RulesFile = cfg.Engine.RulesFile
	lite.Language = cfg.Engine.DefaultLanguage
	lite.DetectionConfidence = cfg.Engine.DetectionConfidence
	lite.LogLevel = cfg.Logging.Level
	lite.LogFormat = cfg.Logging.Format
	return lite
}
