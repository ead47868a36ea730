package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/murmur3"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

// MetricsRecorder receives evaluation telemetry.
type MetricsRecorder interface {
	ObserveEvaluation(status string, duration time.Duration)
	ObserveFindings(findings []domain.ClassifiedFinding)
	ObserveRecommendations(recs []domain.Recommendation)
	ObserveCacheLookup(hit bool)
}

// Evaluation outcome labels
const (
	StatusSuccess      = "success"
	StatusInvalidInput = "invalid_input"
	StatusInsufficient = "insufficient_data"
	StatusError        = "error"
	StatusCached       = "cached"
)

// EvaluationService runs the full findings pipeline for one study: classify,
// score, assess, compare, recommend and explain.
type EvaluationService struct {
	logger      *logrus.Logger
	rules       *rules.RuleSet
	classifier  *LesionClassifier
	scorer      *SeverityScorer
	risk        *RiskCalculator
	comparison  *ComparisonEngine
	recommender *RecommendationEngine
	explainer   *ExplanationGenerator

	cache    domain.ResultCache
	cacheTTL time.Duration
	metrics  MetricsRecorder
}

// NewEvaluationService creates a new evaluation service. A nil rule set selects the defaults.
func NewEvaluationService(logger *logrus.Logger, rs *rules.RuleSet) *EvaluationService {
	if rs == nil {
		rs = rules.Default()
	}
	return &EvaluationService{
		logger:      logger,
		rules:       rs,
		classifier:  NewLesionClassifier(rs),
		scorer:      NewSeverityScorer(rs),
		risk:        NewRiskCalculator(rs),
		comparison:  NewComparisonEngine(rs),
		recommender: NewRecommendationEngine(rs),
		explainer:   NewExplanationGenerator(rs),
	}
}

// WithCache enables result caching
func (s *EvaluationService) WithCache(cache domain.ResultCache, ttl time.Duration) *EvaluationService {
	s.cache = cache
	s.cacheTTL = ttl
	return s
}

// WithMetrics enables metrics recording
func (s *EvaluationService) WithMetrics(m MetricsRecorder) *EvaluationService {
	s.metrics = m
	return s
}

// Rules returns the rule set in use.
func (s *EvaluationService) Rules() *rules.RuleSet {
	return s.rules
}

// Classifier exposes the lesion classifier for single-detection callers.
func (s *EvaluationService) Classifier() *LesionClassifier { return s.classifier }

// Scorer exposes the severity scorer for single-detection callers.
func (s *EvaluationService) Scorer() *SeverityScorer { return s.scorer }

// Explainer exposes the explanation generator.
func (s *EvaluationService) Explainer() *ExplanationGenerator { return s.explainer }

// Evaluate runs the pipeline for one study, consulting the result cache when configured.
func (s *EvaluationService) Evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.Evaluation, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		s.observe(err, start)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"study_id":   req.Metadata.StudyID,
		"detections": len(req.Detections),
		"priors":     len(req.PriorStudies),
	}).Info("Starting study evaluation")

	key, keyErr := s.cacheKey(req)
	if s.cache != nil && keyErr == nil {
		if eval, ok := s.cached(ctx, key); ok {
			if s.metrics != nil {
				s.metrics.ObserveEvaluation(StatusCached, time.Since(start))
			}
			return eval, nil
		}
	}

	eval, err := s.Run(req)
	if err != nil {
		s.observe(err, start)
		s.logger.WithError(err).WithField("study_id", req.Metadata.StudyID).Warn("Study evaluation failed")
		return nil, err
	}

	if s.cache != nil && keyErr == nil {
		if data, err := json.Marshal(eval); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				s.logger.WithError(err).Warn("Failed to cache evaluation")
			}
		}
	}

	s.observe(nil, start)
	if s.metrics != nil {
		s.metrics.ObserveFindings(eval.Findings)
		s.metrics.ObserveRecommendations(eval.Recommendations)
	}

	s.logger.WithFields(logrus.Fields{
		"study_id":        eval.StudyID,
		"findings":        len(eval.Findings),
		"overall_birads":  eval.OverallAssessment.Category,
		"risk_score":      eval.RiskAssessment.Score,
		"recommendations": len(eval.Recommendations),
		"processing_time": time.Since(start),
	}).Info("Study evaluation completed")

	return eval, nil
}

// Run is the pure pipeline: identical requests produce identical evaluations.
func (s *EvaluationService) Run(req *domain.EvaluationRequest) (*domain.Evaluation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	meta := req.Metadata

	findings := make([]domain.ClassifiedFinding, 0, len(req.Detections))
	for i, det := range req.Detections {
		f, err := s.classifier.Classify(det, meta, i+1)
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		f.BIRADS = s.scorer.ScoreFinding(f, det.BiopsyProvenMalignant)
		findings = append(findings, f)
	}

	overall, err := s.scorer.Overall(findings, meta.Density)
	if err != nil {
		return nil, err
	}

	risk := s.risk.Calculate(req.Patient, meta.Density, findings, meta.StudyDate)

	baseline := SelectBaseline(req.PriorStudies, meta)
	comparison := s.comparison.Compare(findings, baseline, meta.StudyDate)

	recs := s.recommender.Recommend(RecommendationInput{
		Findings:   findings,
		Risk:       risk,
		Comparison: &comparison,
		Density:    meta.Density,
		Patient:    req.Patient,
	})

	explanations := s.explainer.Explain(recs, meta.Density, req.Patient.Language)

	return &domain.Evaluation{
		StudyID:           meta.StudyID,
		Laterality:        meta.Laterality,
		ViewPosition:      meta.ViewPosition,
		StudyDate:         meta.StudyDate,
		EngineVersion:     domain.EngineVersion,
		RulesVersion:      s.rules.Version,
		Findings:          findings,
		OverallAssessment: overall,
		RiskAssessment:    risk,
		Comparison:        comparison,
		Recommendations:   recs,
		Explanations:      explanations,
	}, nil
}

func (s *EvaluationService) cacheKey(req *domain.EvaluationRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	h := murmur3.New128()
	h.Write([]byte(domain.EngineVersion))
	h.Write([]byte{0})
	h.Write([]byte(s.rules.Version))
	h.Write([]byte{0})
	h.Write(data)
	return "evaluation:" + hex.EncodeToString(h.Sum(nil)), nil
}

func (s *EvaluationService) cached(ctx context.Context, key string) (*domain.Evaluation, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WithError(err).Warn("Result cache lookup failed")
	}
	hit := err == nil && ok
	var eval domain.Evaluation
	if hit {
		if err := json.Unmarshal(data, &eval); err != nil {
			s.logger.WithError(err).Warn("Discarding unreadable cached evaluation")
			hit = false
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveCacheLookup(hit)
	}
	if !hit {
		return nil, false
	}
	return &eval, true
}

func (s *EvaluationService) observe(err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveEvaluation(StatusOf(err), time.Since(start))
}

// StatusOf maps an evaluation error to its outcome label.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, domain.ErrInvalidInput):
		return StatusInvalidInput
	case errors.Is(err, domain.ErrInsufficientData):
		return StatusInsufficient
	default:
		return StatusError
	}
}
