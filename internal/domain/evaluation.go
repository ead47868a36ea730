package domain

import (
	"fmt"
	"time"
)

// EngineVersion identifies the evaluation pipeline build recorded with every result.
const EngineVersion = "1.0.0"

// EvaluationRequest gathers everything the collaborators supply for one study.
type EvaluationRequest struct {
	Metadata     StudyMetadata     `json:"metadata"`
	Detections   []LesionDetection `json:"detections"`
	Patient      PatientProfile    `json:"patient"`
	PriorStudies []PriorStudy      `json:"prior_studies,omitempty"`
}

// Validate checks the structurally required parts of the request.
func (r *EvaluationRequest) Validate() error {
	if r == nil {
		return NewInvalidInput("request", "request is required")
	}
	if r.Metadata.StudyID == "" {
		return NewInvalidInput("metadata.study_id", "study ID is required")
	}
	if err := r.Metadata.Validate(); err != nil {
		return err
	}
	if r.Metadata.Density != "" && !r.Metadata.Density.IsValid() {
		return NewInvalidInput("metadata.density", fmt.Sprintf("unsupported density category %q", r.Metadata.Density))
	}
	if r.Patient.DateOfBirth != nil && r.Metadata.StudyDate.IsZero() {
		return NewInvalidInput("metadata.study_date", "study date is required when date of birth is given")
	}
	for i, d := range r.Detections {
		if d.BoundingBox == nil {
			return NewInvalidInput(fmt.Sprintf("detections[%d].bbox", i), "bounding box is required")
		}
	}
	return nil
}

// Evaluation is the complete, deterministic engine output for one study.
type Evaluation struct {
	StudyID           string               `json:"study_id"`
	Laterality        Laterality           `json:"laterality"`
	ViewPosition      ViewPosition         `json:"view_position"`
	StudyDate         time.Time            `json:"study_date"`
	EngineVersion     string               `json:"engine_version"`
	RulesVersion      string               `json:"rules_version"`
	Findings          []ClassifiedFinding  `json:"findings"`
	OverallAssessment OverallAssessment    `json:"overall_assessment"`
	RiskAssessment    RiskAssessment       `json:"risk_assessment"`
	Comparison        Comparison           `json:"comparison"`
	Recommendations   []Recommendation     `json:"recommendations"`
	Explanations      []PatientExplanation `json:"explanations"`
}

// HighestUrgency returns the most urgent recommendation urgency, or "" when
// there are no recommendations.
func (e *Evaluation) HighestUrgency() Urgency {
	var best Urgency
	for _, r := range e.Recommendations {
		if best == "" || r.Urgency.Priority() < best.Priority() {
			best = r.Urgency
		}
	}
	return best
}

// AsPriorStudy converts a stored evaluation into study-history input.
func (e *Evaluation) AsPriorStudy() PriorStudy {
	return PriorStudy{
		StudyID:      e.StudyID,
		ViewPosition: e.ViewPosition,
		Laterality:   e.Laterality,
		StudyDate:    e.StudyDate,
		Findings:     e.Findings,
	}
}

// EvaluationRecord is one persisted, immutable version of a study evaluation.
type EvaluationRecord struct {
	ID         string      `json:"id"`
	StudyID    string      `json:"study_id"`
	PatientID  string      `json:"patient_id"`
	Version    int         `json:"version"`
	Evaluation *Evaluation `json:"evaluation"`
	CreatedAt  time.Time   `json:"created_at"`
}
