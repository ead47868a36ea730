// Package metrics exposes Prometheus instrumentation for the findings engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mammography-findings-server/internal/domain"
)

const namespace = "mammography"

// EngineMetrics records evaluation outcomes on a private registry.
type EngineMetrics struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	findingsTotal      *prometheus.CounterVec
	recommendations    *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
}

func NewEngineMetrics() *EngineMetrics {
	registry := prometheus.NewRegistry()

	evaluationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Total study evaluations by status.",
		},
		[]string{"status"},
	)
	evaluationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "Study evaluation duration in seconds by status.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"status"},
	)
	findingsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "findings_total",
			Help:      "Classified findings by BI-RADS category.",
		},
		[]string{"birads"},
	)
	recommendations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "recommendations_total",
			Help:      "Issued recommendations by type.",
		},
		[]string{"type"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(evaluationsTotal, evaluationDuration, findingsTotal, recommendations, cacheLookups)

	return &EngineMetrics{
		registry:           registry,
		evaluationsTotal:   evaluationsTotal,
		evaluationDuration: evaluationDuration,
		findingsTotal:      findingsTotal,
		recommendations:    recommendations,
		cacheLookups:       cacheLookups,
	}
}

func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry so other collectors can join it.
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *EngineMetrics) ObserveEvaluation(status string, duration time.Duration) {
	m.evaluationsTotal.WithLabelValues(status).Inc()
	m.evaluationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *EngineMetrics) ObserveFindings(findings []domain.ClassifiedFinding) {
	for _, f := range findings {
		m.findingsTotal.WithLabelValues(string(f.BIRADS.Category)).Inc()
	}
}

func (m *EngineMetrics) ObserveRecommendations(recs []domain.Recommendation) {
	for _, r := range recs {
		m.recommendations.WithLabelValues(string(r.Type)).Inc()
	}
}

func (m *EngineMetrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
