// Package mcp exposes the findings engine as Model Context Protocol tools.
// The lite server requires no external services: results are cached in
// memory and radiologist reviews are kept in SQLite.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/internal/cache"
	litecfg "github.com/mammography-findings-server/internal/config"
	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/feedback"
	"github.com/mammography-findings-server/internal/logging"
	"github.com/mammography-findings-server/internal/rules"
	"github.com/mammography-findings-server/internal/service"
	"github.com/mammography-findings-server/internal/worker"
)

const (
	serverName    = "mammography-findings-server-lite"
	serverVersion = "v" + domain.EngineVersion
)

// LiteServer is a lightweight MCP server that requires no external databases.
type LiteServer struct {
	config    *litecfg.LiteConfig
	mcpServer *mcp.Server
	evaluator *service.EvaluationService
	batch     *worker.BatchEvaluator
	parser    *service.DetectionParser
	reviews   feedback.Store
	cache     *cache.MemoryCache
	results   domain.ResultCache
	ruleSet   *rules.RuleSet
	impl      mcp.Implementation
	logger    *logrus.Logger
	now       func() time.Time
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithReviewStore sets a custom review store.
func WithReviewStore(store feedback.Store) LiteServerOption {
	return func(s *LiteServer) error {
		if store == nil {
			return errors.New("review store is nil")
		}
		s.reviews = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		s.logger = logger
		return nil
	}
}

// WithRuleSet replaces the rule tables loaded from the configuration.
func WithRuleSet(rs *rules.RuleSet) LiteServerOption {
	return func(s *LiteServer) error {
		if rs == nil {
			return errors.New("rule set is nil")
		}
		if err := rs.Validate(); err != nil {
			return fmt.Errorf("invalid rule set: %w", err)
		}
		s.ruleSet = rs
		return nil
	}
}

// WithResultCache makes evaluations use an external cache, such as Redis,
// instead of the in-memory one.
func WithResultCache(c domain.ResultCache) LiteServerOption {
	return func(s *LiteServer) error {
		if c == nil {
			return errors.New("result cache is nil")
		}
		s.results = c
		return nil
	}
}

// WithImplementation overrides the name and version reported to clients.
func WithImplementation(name, version string) LiteServerOption {
	return func(s *LiteServer) error {
		if name == "" {
			return errors.New("implementation name is required")
		}
		s.impl = mcp.Implementation{Name: name, Version: version}
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		impl:   mcp.Implementation{Name: serverName, Version: serverVersion},
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.logger == nil {
		logger, err := logging.NewLogger(domain.LoggingConfig{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			// stdout carries the protocol stream
			Output: "stderr",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		server.logger = logger
	}

	if server.ruleSet == nil {
		rs, err := rules.FromConfig(cfg.Engine())
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		server.ruleSet = rs
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.results == nil {
		memCache, err := cache.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		server.cache = memCache
		server.results = memCache
	}

	if server.reviews == nil {
		store, err := feedback.NewSQLiteStore(cfg.FeedbackDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create review store: %w", err)
		}
		server.reviews = store
	}

	server.evaluator = service.NewEvaluationService(server.logger, server.ruleSet).
		WithCache(server.results, cfg.CacheTTL)
	server.batch = worker.NewBatchEvaluator(server.evaluator, cfg.Workers, server.logger)
	server.parser = service.NewDetectionParser(cfg.DetectionConfidence)

	impl := server.impl
	server.mcpServer = mcp.NewServer(&impl, nil)
	server.registerTools()
	server.registerResources()

	server.logger.WithFields(logrus.Fields{
		"rules_version": server.ruleSet.Version,
		"data_dir":      cfg.DataDir,
	}).Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP on the configured transport until ctx is cancelled.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.WithField("transport_type", s.config.Transport).Info("Starting mammography findings MCP server (lite)")

	switch s.config.Transport {
	case "", "stdio":
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case "http":
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", s.config.Transport)
	}
}

func (s *LiteServer) serveHTTP(ctx context.Context) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", httpServer.Addr).Info("MCP HTTP transport listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("MCP HTTP transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.cache != nil {
		s.cache.Purge()
	}
	if s.reviews != nil {
		if err := s.reviews.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close review store")
			return err
		}
	}
	return nil
}

// ReviewStore returns the review store for external access.
func (s *LiteServer) ReviewStore() feedback.Store {
	return s.reviews
}

// Cache returns the in-memory evaluation cache, or nil when an external
// cache was supplied.
func (s *LiteServer) Cache() *cache.MemoryCache {
	return s.cache
}
