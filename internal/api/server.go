// Package api exposes the findings engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/feedback"
	"github.com/mammography-findings-server/internal/metrics"
	"github.com/mammography-findings-server/internal/middleware"
	"github.com/mammography-findings-server/internal/service"
	"github.com/mammography-findings-server/internal/worker"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators the HTTP server routes to. Evaluator,
// Parser and Logger are required; the rest switch features on when set.
type Dependencies struct {
	Evaluator    *service.EvaluationService
	Parser       *service.DetectionParser
	Repository   domain.EvaluationRepository
	Publisher    domain.EvaluationPublisher
	Reviews      feedback.Store
	Metrics      *metrics.EngineMetrics
	HealthChecks map[string]HealthCheck
	Logger       *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	log           *logrus.Logger
	batch         *worker.BatchEvaluator
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) (*Server, error) {
	if deps.Evaluator == nil || deps.Parser == nil || deps.Logger == nil {
		return nil, errors.New("evaluator, parser and logger are required")
	}
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(deps.Logger))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	server := &Server{
		configManager: configManager,
		deps:          deps,
		log:           deps.Logger,
		router:        router,
	}
	server.batch = worker.NewBatchEvaluator(recordingEvaluator{server}, cfg.Engine.Workers, deps.Logger)

	server.setupRoutes(cfg.Server)

	return server, nil
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.log.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes(cfg domain.ServerConfig) {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.RateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst))
	{
		v1.POST("/evaluations", s.handleEvaluate)
		v1.POST("/evaluations/batch", s.handleEvaluateBatch)
		v1.POST("/detections/parse", s.handleParseDetections)
		v1.GET("/studies/:study_id/evaluations", s.handleListVersions)
		v1.GET("/studies/:study_id/evaluations/latest", s.handleGetLatest)
		v1.POST("/reviews", s.handleSubmitReview)
		v1.GET("/reviews", s.handleListReviews)
	}
}
