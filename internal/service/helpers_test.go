package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/internal/domain"
)

var studyDate = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testMeta() domain.StudyMetadata {
	return domain.StudyMetadata{
		StudyID:        "S1",
		PatientID:      "P1",
		Laterality:     domain.LateralityLeft,
		ViewPosition:   domain.ViewMLO,
		ImageWidth:     1000,
		ImageHeight:    1000,
		PixelSpacingMM: 0.1,
		Density:        domain.DensityB,
		StudyDate:      studyDate,
	}
}

// boxAt returns a size x size box centered on (cx, cy).
func boxAt(cx, cy, size float64) *domain.BoundingBox {
	half := size / 2
	return &domain.BoundingBox{XMin: cx - half, YMin: cy - half, XMax: cx + half, YMax: cy + half}
}

// benignFeatures describe a round, circumscribed, equal-density mass.
func benignFeatures() domain.FeatureScores {
	return domain.FeatureScores{
		Circularity:     0.9,
		AspectRatio:     1.1,
		EdgeSharpness:   0.9,
		TextureContrast: 0.1,
		DensityRatio:    1.0,
	}
}

// spiculatedFeatures describe an irregular, spiculated, high-density mass.
func spiculatedFeatures() domain.FeatureScores {
	return domain.FeatureScores{
		Circularity:     0.3,
		AspectRatio:     1.8,
		EdgeSharpness:   0.4,
		TextureContrast: 0.85,
		DensityRatio:    1.4,
	}
}

func dateOfBirth(year int) *time.Time {
	t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func intPtr(v int) *int { return &v }

// testFinding builds a left-breast mass with the given location and size.
func testFinding(id string, quadrant domain.Quadrant, clock *int, depth domain.Depth, maxDim float64) domain.ClassifiedFinding {
	return domain.ClassifiedFinding{
		ID:   id,
		Type: domain.LesionMass,
		Location: domain.Location{
			Laterality:    domain.LateralityLeft,
			Quadrant:      quadrant,
			ClockPosition: clock,
			Depth:         depth,
		},
		Characteristics: domain.Characteristics{
			Shape:   domain.ShapeOval,
			Margin:  domain.MarginCircumscribed,
			Density: domain.LesionDensityEqual,
		},
		Size: domain.Size{Width: maxDim, Height: maxDim / 2},
	}
}

func withCategory(f domain.ClassifiedFinding, c domain.BIRADSCategory) domain.ClassifiedFinding {
	f.BIRADS = domain.BIRADSAssessment{Category: c}
	return f
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	statuses []string
	findings int
	recs     int
	hits     int
	misses   int
}

func (r *recordingMetrics) ObserveEvaluation(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingMetrics) ObserveFindings(f []domain.ClassifiedFinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings += len(f)
}

func (r *recordingMetrics) ObserveRecommendations(recs []domain.Recommendation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs += len(recs)
}

func (r *recordingMetrics) ObserveCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}
