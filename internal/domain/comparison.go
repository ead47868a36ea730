package domain

import "time"

// PriorStudy is a previously evaluated study supplied by the study-history collaborator.
type PriorStudy struct {
	StudyID      string              `json:"study_id"`
	ViewPosition ViewPosition        `json:"view_position"`
	Laterality   Laterality          `json:"laterality"`
	StudyDate    time.Time           `json:"study_date"`
	Findings     []ClassifiedFinding `json:"findings"`
}

// ChangeMeasurements quantifies a longitudinal change where applicable.
type ChangeMeasurements struct {
	SizeChangePercent   *float64 `json:"size_change_percent,omitempty"`
	VolumeChangePercent *float64 `json:"volume_change_percent,omitempty"`
	DensityChange       *float64 `json:"density_change,omitempty"`
}

// ComparisonChange is one classified change between the current and baseline study.
type ComparisonChange struct {
	Type             ChangeType         `json:"type"`
	LesionID         string             `json:"lesion_id"`
	BaselineLesionID string             `json:"baseline_lesion_id,omitempty"`
	Confidence       float64            `json:"confidence"`
	Measurements     ChangeMeasurements `json:"measurements"`
}

// ComparisonSummary aggregates the changes of one comparison.
type ComparisonSummary struct {
	BaselineStudyID     *string            `json:"baseline_study_id"`
	NoBaseline          bool               `json:"no_baseline"`
	Counts              map[ChangeType]int `json:"counts"`
	StabilityScore      int                `json:"stability_score"`
	SignificantFindings []string           `json:"significant_findings"`
	IntervalMonths      int                `json:"interval_months"`
}

// Comparison is the full output of a longitudinal comparison.
type Comparison struct {
	Changes []ComparisonChange `json:"changes"`
	Summary ComparisonSummary  `json:"summary"`
}

// ChangesOfType returns the changes with the given type, in order.
func (c *Comparison) ChangesOfType(t ChangeType) []ComparisonChange {
	var out []ComparisonChange
	for _, ch := range c.Changes {
		if ch.Type == t {
			out = append(out, ch)
		}
	}
	return out
}
