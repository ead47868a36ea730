package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/feedback"
	"github.com/mammography-findings-server/internal/middleware"
	"github.com/mammography-findings-server/internal/worker"
)

const (
	maxBatchSize       = 100
	defaultReviewLimit = 50
	maxReviewLimit     = 500
)

// storageError marks failures of the persistence collaborators.
type storageError struct{ err error }

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

var errNotConfigured = errors.New("not configured on this server")

// EvaluationResponse is the body returned for a single evaluation.
type EvaluationResponse struct {
	Evaluation *domain.Evaluation `json:"evaluation"`
	RecordID   string             `json:"record_id,omitempty"`
	Version    int                `json:"version,omitempty"`
}

// BatchRequest is the body of a batch evaluation.
type BatchRequest struct {
	Requests []*domain.EvaluationRequest `json:"requests"`
}

// BatchResponse lists per-study outcomes in request order.
type BatchResponse struct {
	Results   []worker.BatchItem `json:"results"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
}

// ReviewListResponse is one page of reviews with store-wide totals.
type ReviewListResponse struct {
	Reviews   []*feedback.Review `json:"reviews"`
	Total     int64              `json:"total"`
	Agreement feedback.Agreement `json:"agreement"`
}

// recordingEvaluator lets the batch worker pool reuse the single-study path.
type recordingEvaluator struct{ s *Server }

func (r recordingEvaluator) Evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.Evaluation, error) {
	resp, err := r.s.evaluateAndRecord(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Evaluation, nil
}

// evaluateAndRecord loads study history when the caller sent none, evaluates,
// stores the new version and publishes it.
func (s *Server) evaluateAndRecord(ctx context.Context, req *domain.EvaluationRequest) (*EvaluationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	repo := s.deps.Repository
	if repo != nil && len(req.PriorStudies) == 0 && req.Metadata.PatientID != "" {
		priors, err := repo.ListPriorStudies(ctx, req.Metadata.PatientID, req.Metadata.StudyDate)
		if err != nil {
			return nil, &storageError{fmt.Errorf("loading prior studies: %w", err)}
		}
		req.PriorStudies = priors
	}

	eval, err := s.deps.Evaluator.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &EvaluationResponse{Evaluation: eval}

	if repo != nil {
		record, err := repo.Create(ctx, req.Metadata.PatientID, eval)
		if err != nil {
			return nil, &storageError{fmt.Errorf("storing evaluation: %w", err)}
		}
		resp.RecordID = record.ID
		resp.Version = record.Version
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishEvaluation(ctx, eval); err != nil {
			s.log.WithError(err).WithField("study_id", eval.StudyID).Warn("Failed to publish evaluation event")
		}
	}

	return resp, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	checks := make(map[string]string, len(s.deps.HealthChecks))
	status := http.StatusOK
	for name, check := range s.deps.HealthChecks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":         state,
		"timestamp":      time.Now().UTC(),
		"engine_version": domain.EngineVersion,
		"rules_version":  s.deps.Evaluator.Rules().Version,
		"checks":         checks,
	})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req domain.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadJSON(c, err)
		return
	}

	resp, err := s.evaluateAndRecord(c.Request.Context(), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"correlation_id": c.GetString(middleware.CorrelationIDKey),
		"study_id":       resp.Evaluation.StudyID,
		"birads":         resp.Evaluation.OverallAssessment.Category,
		"version":        resp.Version,
	}).Info("Study evaluated")

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvaluateBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadJSON(c, err)
		return
	}
	if len(req.Requests) == 0 || len(req.Requests) > maxBatchSize {
		s.respondError(c, domain.NewInvalidInput("requests",
			fmt.Sprintf("batch must contain between 1 and %d studies", maxBatchSize)))
		return
	}

	items := s.batch.EvaluateAll(c.Request.Context(), req.Requests)
	resp := BatchResponse{Results: items}
	for _, item := range items {
		if item.Err != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleParseDetections(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		s.respondBadJSON(c, err)
		return
	}

	detections, out, err := s.deps.Parser.Parse(data)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"detections": detections,
		"received":   len(out.Detections),
		"kept":       len(detections),
		"image_path": out.ImagePath,
		"timestamp":  out.Timestamp,
	})
}

func (s *Server) handleListVersions(c *gin.Context) {
	if s.deps.Repository == nil {
		s.respondError(c, &storageError{fmt.Errorf("evaluation history: %w", errNotConfigured)})
		return
	}

	records, err := s.deps.Repository.ListVersions(c.Request.Context(), c.Param("study_id"))
	if err != nil {
		s.respondError(c, &storageError{err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"study_id": c.Param("study_id"), "versions": records})
}

func (s *Server) handleGetLatest(c *gin.Context) {
	if s.deps.Repository == nil {
		s.respondError(c, &storageError{fmt.Errorf("evaluation history: %w", errNotConfigured)})
		return
	}

	record, err := s.deps.Repository.GetLatest(c.Request.Context(), c.Param("study_id"))
	if errors.Is(err, domain.ErrNotFound) {
		s.respondError(c, err)
		return
	}
	if err != nil {
		s.respondError(c, &storageError{err})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleSubmitReview(c *gin.Context) {
	if s.deps.Reviews == nil {
		s.respondError(c, &storageError{fmt.Errorf("review store: %w", errNotConfigured)})
		return
	}

	var review feedback.Review
	if err := c.ShouldBindJSON(&review); err != nil {
		s.respondBadJSON(c, err)
		return
	}
	if err := s.deps.Reviews.Save(c.Request.Context(), &review); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (s *Server) handleListReviews(c *gin.Context) {
	if s.deps.Reviews == nil {
		s.respondError(c, &storageError{fmt.Errorf("review store: %w", errNotConfigured)})
		return
	}

	limit, err := queryInt(c, "limit", defaultReviewLimit)
	if err != nil || limit <= 0 || limit > maxReviewLimit {
		s.respondError(c, domain.NewInvalidInput("limit", fmt.Sprintf("limit must be between 1 and %d", maxReviewLimit)))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(c, domain.NewInvalidInput("offset", "offset must be a non-negative integer"))
		return
	}

	ctx := c.Request.Context()
	reviews, err := s.deps.Reviews.List(ctx, limit, offset)
	if err != nil {
		s.respondError(c, &storageError{err})
		return
	}
	total, err := s.deps.Reviews.Count(ctx)
	if err != nil {
		s.respondError(c, &storageError{err})
		return
	}
	agreement, err := s.deps.Reviews.AgreementRate(ctx)
	if err != nil {
		s.respondError(c, &storageError{err})
		return
	}
	if reviews == nil {
		reviews = []*feedback.Review{}
	}

	c.JSON(http.StatusOK, ReviewListResponse{Reviews: reviews, Total: total, Agreement: agreement})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) respondBadJSON(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, domain.NewAPIError(
		domain.APICodeInvalidInput,
		"Request body is not valid JSON",
		err.Error(),
		c.GetString(middleware.CorrelationIDKey),
	))
}

func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.CorrelationIDKey)

	var (
		storeErr  *storageError
		engineErr *domain.EngineError
	)
	switch {
	case errors.As(err, &storeErr):
		s.log.WithError(err).WithField("correlation_id", requestID).Error("Storage failure")
		status := http.StatusInternalServerError
		if errors.Is(err, errNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, domain.NewAPIError(domain.APICodeDatabaseError, "Storage unavailable", err.Error(), requestID))
		return
	case errors.Is(err, feedback.ErrInvalidReview):
		c.JSON(http.StatusBadRequest, domain.NewAPIError(domain.APICodeInvalidInput, "Invalid review", err.Error(), requestID))
		return
	case errors.As(err, &engineErr):
		code, status := domain.ClassifyError(err)
		c.JSON(status, domain.NewAPIError(code, engineErr.Message, engineErr.Field, requestID))
		return
	}

	code, status := domain.ClassifyError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("correlation_id", requestID).Error("Request failed")
		c.JSON(status, domain.NewAPIError(code, "Internal server error", "", requestID))
		return
	}
	c.JSON(status, domain.NewAPIError(code, err.Error(), "", requestID))
}
