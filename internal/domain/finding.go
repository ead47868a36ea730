package domain

import (
	"fmt"
	"time"
)

// BoundingBox is a detector box in image pixel coordinates.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Width returns the horizontal extent in pixels.
func (b BoundingBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the vertical extent in pixels.
func (b BoundingBox) Height() float64 { return b.YMax - b.YMin }

// Center returns the box center in pixels.
func (b BoundingBox) Center() (float64, float64) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// FeatureScores holds the raw continuous features produced by the detector for one region.
// Zero values mean "not measured" unless stated otherwise.
type FeatureScores struct {
	Calcification           float64 `json:"calcification"`
	ArchitecturalDistortion bool    `json:"architectural_distortion"`
	Asymmetry               float64 `json:"asymmetry"`
	LymphNode               bool    `json:"lymph_node"`

	Circularity float64 `json:"circularity"`
	AspectRatio float64 `json:"aspect_ratio"` // 0 derives the ratio from the bounding box

	EdgeSharpness   float64 `json:"edge_sharpness"`
	TextureContrast float64 `json:"texture_contrast"`

	DensityRatio float64 `json:"density_ratio"` // relative to parenchyma, 0 = unknown
	FatContent   float64 `json:"fat_content"`

	ClusterDensity float64 `json:"cluster_density"`
	Linearity      float64 `json:"linearity"`
	Segmental      bool    `json:"segmental"`

	SkinThickening bool `json:"skin_thickening"`
}

// LesionDetection is one detected region on one image, as delivered by the image-analysis collaborator.
type LesionDetection struct {
	ID                    string        `json:"id,omitempty"`
	BoundingBox           *BoundingBox  `json:"bbox"`
	Score                 float64       `json:"score"`
	Features              FeatureScores `json:"features"`
	BiopsyProvenMalignant bool          `json:"biopsy_proven_malignant,omitempty"`
}

// StudyMetadata carries the per-study attributes supplied by the metadata collaborator.
type StudyMetadata struct {
	StudyID        string          `json:"study_id"`
	PatientID      string          `json:"patient_id"`
	Laterality     Laterality      `json:"laterality"`
	ViewPosition   ViewPosition    `json:"view_position"`
	ImageWidth     int             `json:"image_width"`
	ImageHeight    int             `json:"image_height"`
	PixelSpacingMM float64         `json:"pixel_spacing_mm,omitempty"`
	Density        DensityCategory `json:"density"`
	StudyDate      time.Time       `json:"study_date"`
}

// DefaultPixelSpacingMM is used when the study carries no pixel spacing.
const DefaultPixelSpacingMM = 0.1

// Spacing returns the pixel spacing in millimetres, falling back to the default.
func (m StudyMetadata) Spacing() float64 {
	if m.PixelSpacingMM <= 0 {
		return DefaultPixelSpacingMM
	}
	return m.PixelSpacingMM
}

// Validate checks the fields every classification needs.
func (m StudyMetadata) Validate() error {
	if !m.Laterality.IsValid() {
		return NewInvalidInput("metadata.laterality", fmt.Sprintf("unsupported laterality %q", m.Laterality))
	}
	if !m.ViewPosition.IsValid() {
		return NewInvalidInput("metadata.view_position", fmt.Sprintf("unsupported view position %q", m.ViewPosition))
	}
	if m.ImageWidth <= 0 || m.ImageHeight <= 0 {
		return NewInvalidInput("metadata.image_dimensions", "image dimensions must be positive")
	}
	return nil
}

// Location is the anatomical position of a finding.
type Location struct {
	Laterality    Laterality `json:"laterality"`
	Quadrant      Quadrant   `json:"quadrant"`
	ClockPosition *int       `json:"clock_position,omitempty"`
	Depth         Depth      `json:"depth"`
}

// Characteristics are the morphological descriptors of a finding.
type Characteristics struct {
	Shape        Shape         `json:"shape"`
	Margin       Margin        `json:"margin"`
	Density      LesionDensity `json:"density"`
	DensityRatio float64       `json:"density_ratio,omitempty"`
	Distribution Distribution  `json:"distribution,omitempty"`
}

// Size is the measured extent of a finding in millimetres.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
}

// MaxDimension returns the largest measured extent.
func (s Size) MaxDimension() float64 {
	m := s.Width
	if s.Height > m {
		m = s.Height
	}
	if s.Depth > m {
		m = s.Depth
	}
	return m
}

// ConfidenceScores are per-aspect classification confidences in [0,1].
type ConfidenceScores struct {
	Overall float64 `json:"overall"`
	Type    float64 `json:"type"`
	Shape   float64 `json:"shape"`
	Margin  float64 `json:"margin"`
}

// BIRADSAssessment is the category assigned to one finding.
type BIRADSAssessment struct {
	Category    BIRADSCategory `json:"category"`
	Description string         `json:"description"`
	FollowUp    string         `json:"followup"`
}

// ClassifiedFinding is a typed clinical finding derived from one detection.
// A finding is immutable once created; re-analysis produces a new finding.
type ClassifiedFinding struct {
	ID                 string              `json:"id"`
	Type               LesionType          `json:"type"`
	Location           Location            `json:"location"`
	Characteristics    Characteristics     `json:"characteristics"`
	Size               Size                `json:"size"`
	SuspiciousFeatures []SuspiciousFeature `json:"suspicious_features"`
	ConfidenceScores   ConfidenceScores    `json:"confidence_scores"`
	Score              float64             `json:"score"`
	BIRADS             BIRADSAssessment    `json:"birads"`
}

// HasFeature reports whether the finding carries the given suspicious feature.
func (f *ClassifiedFinding) HasFeature(feature SuspiciousFeature) bool {
	for _, sf := range f.SuspiciousFeatures {
		if sf == feature {
			return true
		}
	}
	return false
}
