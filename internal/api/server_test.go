package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammography-findings-server/internal/config"
	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/feedback"
	"github.com/mammography-findings-server/internal/metrics"
	"github.com/mammography-findings-server/internal/service"
)

type fakeRepository struct {
	mu          sync.Mutex
	records     map[string][]*domain.EvaluationRecord
	priors      []domain.PriorStudy
	priorCalls  int
	failCreate  bool
	lastBefore  time.Time
	lastPatient string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: map[string][]*domain.EvaluationRecord{}}
}

func (r *fakeRepository) Create(_ context.Context, patientID string, eval *domain.Evaluation) (*domain.EvaluationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return nil, errors.New("connection refused")
	}
	version := len(r.records[eval.StudyID]) + 1
	rec := &domain.EvaluationRecord{
		ID:         fmt.Sprintf("rec-%s-%d", eval.StudyID, version),
		StudyID:    eval.StudyID,
		PatientID:  patientID,
		Version:    version,
		Evaluation: eval,
		CreatedAt:  time.Now().UTC(),
	}
	r.records[eval.StudyID] = append(r.records[eval.StudyID], rec)
	return rec, nil
}

func (r *fakeRepository) GetLatest(_ context.Context, studyID string) (*domain.EvaluationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.records[studyID]
	if len(recs) == 0 {
		return nil, fmt.Errorf("evaluation for study %s: %w", studyID, domain.ErrNotFound)
	}
	return recs[len(recs)-1], nil
}

func (r *fakeRepository) ListVersions(_ context.Context, studyID string) ([]*domain.EvaluationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.EvaluationRecord{}, r.records[studyID]...), nil
}

func (r *fakeRepository) ListPriorStudies(_ context.Context, patientID string, before time.Time) ([]domain.PriorStudy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priorCalls++
	r.lastPatient = patientID
	r.lastBefore = before
	return r.priors, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) PublishEvaluation(_ context.Context, eval *domain.Evaluation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, eval.StudyID)
	return nil
}

type testEnv struct {
	server    *Server
	repo      *fakeRepository
	publisher *fakePublisher
	reviews   *feedback.SQLiteStore
}

func newTestEnv(t *testing.T, mutate func(*Dependencies)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cm, err := config.NewManagerWithPaths(t.TempDir())
	require.NoError(t, err)

	reviews, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reviews.Close() })

	env := &testEnv{repo: newFakeRepository(), publisher: &fakePublisher{}, reviews: reviews}
	m := metrics.NewEngineMetrics()
	deps := Dependencies{
		Evaluator:  service.NewEvaluationService(logger, nil).WithMetrics(m),
		Parser:     service.NewDetectionParser(0.8),
		Repository: env.repo,
		Publisher:  env.publisher,
		Reviews:    reviews,
		Metrics:    m,
		HealthChecks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		},
		Logger: logger,
	}
	if mutate != nil {
		mutate(&deps)
	}

	env.server, err = NewServer(cm, deps)
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func suspiciousRequest(studyID string) map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"study_id":         studyID,
			"patient_id":       "P1",
			"laterality":       "L",
			"view_position":    "MLO",
			"image_width":      1000,
			"image_height":     1000,
			"pixel_spacing_mm": 0.1,
			"density":          "B",
			"study_date":       "2024-03-01T00:00:00Z",
		},
		"detections": []map[string]any{{
			"bbox":  map[string]any{"x_min": 700, "y_min": 300, "x_max": 800, "y_max": 400},
			"score": 0.95,
			"features": map[string]any{
				"circularity":      0.3,
				"aspect_ratio":     1.8,
				"edge_sharpness":   0.4,
				"texture_contrast": 0.85,
				"density_ratio":    1.4,
			},
		}},
		"patient": map[string]any{"date_of_birth": "1970-01-01T00:00:00Z"},
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	cm, err := config.NewManagerWithPaths(t.TempDir())
	require.NoError(t, err)
	_, err = NewServer(cm, Dependencies{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, domain.EngineVersion, body["engine_version"])
	assert.NotEmpty(t, body["rules_version"])
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) {
		d.HealthChecks = map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
		}
	})

	rec := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
}

func TestEvaluate_PersistsAndPublishes(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/evaluations", suspiciousRequest("S1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[EvaluationResponse](t, rec)
	require.NotNil(t, resp.Evaluation)
	assert.Equal(t, "S1", resp.Evaluation.StudyID)
	assert.Equal(t, domain.BIRADS5, resp.Evaluation.OverallAssessment.Category)
	assert.Equal(t, 1, resp.Version)
	assert.Equal(t, "rec-S1-1", resp.RecordID)

	assert.Equal(t, 1, env.repo.priorCalls)
	assert.Equal(t, "P1", env.repo.lastPatient)
	assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Equal(env.repo.lastBefore))
	assert.Equal(t, []string{"S1"}, env.publisher.published)

	rec = env.do(http.MethodPost, "/api/v1/evaluations", suspiciousRequest("S1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[EvaluationResponse](t, rec).Version)
}

func TestEvaluate_UsesSuppliedPriors(t *testing.T) {
	env := newTestEnv(t, nil)

	req := suspiciousRequest("S1")
	req["prior_studies"] = []map[string]any{{
		"study_id":      "S0",
		"view_position": "MLO",
		"laterality":    "L",
		"study_date":    "2023-03-01T00:00:00Z",
		"findings":      []any{},
	}}
	rec := env.do(http.MethodPost, "/api/v1/evaluations", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Zero(t, env.repo.priorCalls)
}

func TestEvaluate_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/evaluations", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := suspiciousRequest("S1")
	bad["metadata"].(map[string]any)["laterality"] = "X"
	rec = env.do(http.MethodPost, "/api/v1/evaluations", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decode[domain.APIError](t, rec)
	assert.Equal(t, domain.APICodeInvalidInput, apiErr.Code)
	assert.Equal(t, "metadata.laterality", apiErr.Details)
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Empty(t, env.publisher.published)
}

func TestEvaluate_StorageFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.repo.failCreate = true

	rec := env.do(http.MethodPost, "/api/v1/evaluations", suspiciousRequest("S1"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.APICodeDatabaseError, decode[domain.APIError](t, rec).Code)
	assert.Empty(t, env.publisher.published)
}

func TestEvaluate_PublishFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	env.publisher.err = errors.New("circuit open")

	rec := env.do(http.MethodPost, "/api/v1/evaluations", suspiciousRequest("S1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvaluate_WithoutPersistence(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) {
		d.Repository = nil
		d.Publisher = nil
	})

	rec := env.do(http.MethodPost, "/api/v1/evaluations", suspiciousRequest("S1"))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[EvaluationResponse](t, rec)
	assert.Zero(t, resp.Version)
	assert.Empty(t, resp.RecordID)

	rec = env.do(http.MethodGet, "/api/v1/studies/S1/evaluations/latest", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEvaluateBatch(t *testing.T) {
	env := newTestEnv(t, nil)

	bad := suspiciousRequest("S2")
	bad["metadata"].(map[string]any)["image_width"] = 0
	body := map[string]any{"requests": []any{suspiciousRequest("S1"), bad, suspiciousRequest("S3")}}

	rec := env.do(http.MethodPost, "/api/v1/evaluations/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[BatchResponse](t, rec)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, "S1", resp.Results[0].StudyID)
	assert.Equal(t, "S2", resp.Results[1].StudyID)
	assert.Contains(t, resp.Results[1].Error, "metadata.image_dimensions")
	assert.Equal(t, "S3", resp.Results[2].Evaluation.StudyID)
	assert.ElementsMatch(t, []string{"S1", "S3"}, env.publisher.published)

	rec = env.do(http.MethodPost, "/api/v1/evaluations/batch", map[string]any{"requests": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseDetections(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"status":"success","image_path":"study/L_MLO.dcm","timestamp":"2024-03-01T09:00:00Z",
		"detections":[
			{"bbox":{"x_min":10,"y_min":10,"x_max":50,"y_max":50},"confidence":0.92},
			{"bbox":{"x_min":60,"y_min":60,"x_max":90,"y_max":90},"confidence":0.41}]}`
	rec := env.do(http.MethodPost, "/api/v1/detections/parse", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), resp["received"])
	assert.Equal(t, float64(1), resp["kept"])
	assert.Equal(t, "study/L_MLO.dcm", resp["image_path"])

	rec = env.do(http.MethodPost, "/api/v1/detections/parse", `{"status":"error","message":"model not loaded"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "detector_output.status", decode[domain.APIError](t, rec).Details)
}

func TestStudyHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/v1/studies/S1/evaluations/latest", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.APICodeNotFound, decode[domain.APIError](t, rec).Code)

	env.do(http.MethodPost, "/api/v1/evaluations", suspiciousRequest("S1"))
	env.do(http.MethodPost, "/api/v1/evaluations", suspiciousRequest("S1"))

	rec = env.do(http.MethodGet, "/api/v1/studies/S1/evaluations/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[domain.EvaluationRecord](t, rec).Version)

	rec = env.do(http.MethodGet, "/api/v1/studies/S1/evaluations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		StudyID  string                     `json:"study_id"`
		Versions []*domain.EvaluationRecord `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, "S1", history.StudyID)
	assert.Len(t, history.Versions, 2)
}

func TestReviews(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/reviews", map[string]any{
		"study_id":          "S1",
		"finding_id":        "S1-F1",
		"engine_category":   "4B",
		"reviewer_category": "4C",
		"reviewer":          "dr-lee",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[feedback.Review](t, rec)
	assert.NotZero(t, saved.ID)
	assert.False(t, saved.Agreed)

	env.do(http.MethodPost, "/api/v1/reviews", map[string]any{
		"study_id": "S2", "engine_category": "1", "reviewer_category": "1",
	})

	rec = env.do(http.MethodGet, "/api/v1/reviews?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ReviewListResponse](t, rec)
	assert.Len(t, list.Reviews, 2)
	assert.Equal(t, int64(2), list.Total)
	assert.InDelta(t, 0.5, list.Agreement.Rate, 1e-9)

	rec = env.do(http.MethodPost, "/api/v1/reviews", map[string]any{"study_id": "S3", "engine_category": "9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/reviews?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/api/v1/reviews?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodPost, "/api/v1/evaluations", suspiciousRequest("S1"))

	rec := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mammography_engine_evaluations_total{status="success"} 1`)
	assert.Contains(t, rec.Body.String(), `mammography_engine_findings_total{birads="5"} 1`)
}
