// Package domain contains core business entities and types for mammography finding
// evaluation following the ACR BI-RADS (Breast Imaging Reporting and Data System) lexicon.
//
// Reference: D'Orsi CJ, Sickles EA, Mendelson EB, Morris EA, et al.
// ACR BI-RADS Atlas, Breast Imaging Reporting and Data System. 5th ed. Reston, VA:
// American College of Radiology; 2013.
package domain

import (
	"errors"
	"strings"
)

// BIRADSCategory represents a BI-RADS assessment category.
// Findings use the nine categories 1-6 (with 4 subdivided into 4A/4B/4C);
// category 0 is only meaningful for the overall study assessment.
type BIRADSCategory string

const (
	BIRADS0  BIRADSCategory = "0"
	BIRADS1  BIRADSCategory = "1"
	BIRADS2  BIRADSCategory = "2"
	BIRADS3  BIRADSCategory = "3"
	BIRADS4  BIRADSCategory = "4"
	BIRADS4A BIRADSCategory = "4A"
	BIRADS4B BIRADSCategory = "4B"
	BIRADS4C BIRADSCategory = "4C"
	BIRADS5  BIRADSCategory = "5"
	BIRADS6  BIRADSCategory = "6"
)

// biradsRank orders categories by severity. Category 0 ranks lowest because it
// carries no suspicion level of its own.
var biradsRank = map[BIRADSCategory]int{
	BIRADS0:  0,
	BIRADS1:  1,
	BIRADS2:  2,
	BIRADS3:  3,
	BIRADS4:  4,
	BIRADS4A: 5,
	BIRADS4B: 6,
	BIRADS4C: 7,
	BIRADS5:  8,
	BIRADS6:  9,
}

// FindingCategories lists the nine categories a single finding may carry.
func FindingCategories() []BIRADSCategory {
	return []BIRADSCategory{BIRADS1, BIRADS2, BIRADS3, BIRADS4, BIRADS4A, BIRADS4B, BIRADS4C, BIRADS5, BIRADS6}
}

// IsValid reports whether the category is any defined BI-RADS value, including 0.
func (c BIRADSCategory) IsValid() bool {
	_, ok := biradsRank[c]
	return ok
}

// IsValidForFinding reports whether the category may be assigned to an individual finding.
func (c BIRADSCategory) IsValidForFinding() bool {
	return c.IsValid() && c != BIRADS0
}

// Rank returns the severity rank, or -1 for an unknown category.
func (c BIRADSCategory) Rank() int {
	if r, ok := biradsRank[c]; ok {
		return r
	}
	return -1
}

// Numeric returns the numeric part of the category (4A, 4B and 4C are all 4).
func (c BIRADSCategory) Numeric() int {
	if !c.IsValid() {
		return -1
	}
	return int(c[0] - '0')
}

// String returns the string representation of the category.
func (c BIRADSCategory) String() string {
	return string(c)
}

// MoreSevereThan reports whether c ranks above other.
func (c BIRADSCategory) MoreSevereThan(other BIRADSCategory) bool {
	return c.Rank() > other.Rank()
}

// LogFields returns structured logging fields for audit trails.
func (c BIRADSCategory) LogFields() map[string]any {
	return map[string]any{
		"birads":          string(c),
		"birads_numeric":  c.Numeric(),
		"is_valid":        c.IsValid(),
		"requires_tissue": c.RequiresTissueDiagnosis(),
	}
}

// RequiresTissueDiagnosis reports whether the category calls for biopsy under BI-RADS.
// Unknown categories return true so that a malformed value never reads as reassuring.
func (c BIRADSCategory) RequiresTissueDiagnosis() bool {
	switch c {
	case BIRADS4, BIRADS4A, BIRADS4B, BIRADS4C, BIRADS5:
		return true
	case BIRADS0, BIRADS1, BIRADS2, BIRADS3, BIRADS6:
		return false
	default:
		return true
	}
}

// LesionType is the clinical type of a finding.
type LesionType string

const (
	LesionMass          LesionType = "mass"
	LesionCalcification LesionType = "calcification"
	LesionAsymmetry     LesionType = "asymmetry"
	LesionDistortion    LesionType = "distortion"
	LesionLymphNode     LesionType = "lymph-node"
)

// IsValid validates the lesion type.
func (t LesionType) IsValid() bool {
	switch t {
	case LesionMass, LesionCalcification, LesionAsymmetry, LesionDistortion, LesionLymphNode:
		return true
	default:
		return false
	}
}

// Laterality identifies the breast an image or finding belongs to.
type Laterality string

const (
	LateralityLeft  Laterality = "L"
	LateralityRight Laterality = "R"
)

// IsValid validates the laterality.
func (l Laterality) IsValid() bool {
	return l == LateralityLeft || l == LateralityRight
}

// ParseLaterality accepts the DICOM code or a spelled-out side.
func ParseLaterality(s string) (Laterality, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L", "LEFT":
		return LateralityLeft, nil
	case "R", "RIGHT":
		return LateralityRight, nil
	default:
		return "", ErrInvalidLaterality
	}
}

// ViewPosition is the mammographic projection.
type ViewPosition string

const (
	ViewCC  ViewPosition = "CC"
	ViewMLO ViewPosition = "MLO"
)

// IsValid validates the view position.
func (v ViewPosition) IsValid() bool {
	return v == ViewCC || v == ViewMLO
}

// IsOblique reports whether clock position and depth can be derived from this view.
func (v ViewPosition) IsOblique() bool {
	return v == ViewMLO
}

// Quadrant is a coarse anatomical sector of the breast.
type Quadrant string

const (
	QuadrantUOQ     Quadrant = "UOQ"
	QuadrantUIQ     Quadrant = "UIQ"
	QuadrantLOQ     Quadrant = "LOQ"
	QuadrantLIQ     Quadrant = "LIQ"
	QuadrantCentral Quadrant = "central"
)

// IsValid validates the quadrant.
func (q Quadrant) IsValid() bool {
	switch q {
	case QuadrantUOQ, QuadrantUIQ, QuadrantLOQ, QuadrantLIQ, QuadrantCentral:
		return true
	default:
		return false
	}
}

// Depth is the anterior-posterior third of the breast.
type Depth string

const (
	DepthAnterior  Depth = "anterior"
	DepthMiddle    Depth = "middle"
	DepthPosterior Depth = "posterior"
	DepthUnknown   Depth = "unknown"
)

// IsKnown reports whether the depth carries positional information.
func (d Depth) IsKnown() bool {
	return d == DepthAnterior || d == DepthMiddle || d == DepthPosterior
}

// Shape is the BI-RADS mass shape descriptor.
type Shape string

const (
	ShapeRound     Shape = "round"
	ShapeOval      Shape = "oval"
	ShapeIrregular Shape = "irregular"
	ShapeLobulated Shape = "lobulated"
)

// IsValid validates the shape.
func (s Shape) IsValid() bool {
	switch s {
	case ShapeRound, ShapeOval, ShapeIrregular, ShapeLobulated:
		return true
	default:
		return false
	}
}

// Margin is the BI-RADS mass margin descriptor.
type Margin string

const (
	MarginCircumscribed  Margin = "circumscribed"
	MarginMicrolobulated Margin = "microlobulated"
	MarginObscured       Margin = "obscured"
	MarginIndistinct     Margin = "indistinct"
	MarginSpiculated     Margin = "spiculated"
)

// IsValid validates the margin.
func (m Margin) IsValid() bool {
	switch m {
	case MarginCircumscribed, MarginMicrolobulated, MarginObscured, MarginIndistinct, MarginSpiculated:
		return true
	default:
		return false
	}
}

// LesionDensity is the density of a lesion relative to the surrounding parenchyma.
type LesionDensity string

const (
	LesionDensityHigh          LesionDensity = "high"
	LesionDensityEqual         LesionDensity = "equal"
	LesionDensityLow           LesionDensity = "low"
	LesionDensityFatContaining LesionDensity = "fat-containing"
)

// Ordinal places the density on a [0,1] scale from fat-containing to high.
func (d LesionDensity) Ordinal() float64 {
	switch d {
	case LesionDensityFatContaining:
		return 0
	case LesionDensityLow:
		return 1.0 / 3.0
	case LesionDensityEqual:
		return 2.0 / 3.0
	case LesionDensityHigh:
		return 1
	default:
		return 2.0 / 3.0
	}
}

// Distribution describes how calcifications are spread.
type Distribution string

const (
	DistributionRegional  Distribution = "regional"
	DistributionGrouped   Distribution = "grouped"
	DistributionLinear    Distribution = "linear"
	DistributionSegmental Distribution = "segmental"
)

// SuspiciousFeature is a secondary feature that raises suspicion for malignancy.
type SuspiciousFeature string

const (
	FeatureSpiculatedMargin        SuspiciousFeature = "spiculated-margin"
	FeatureIrregularShape          SuspiciousFeature = "irregular-shape"
	FeatureIndistinctMargin        SuspiciousFeature = "indistinct-margin"
	FeatureHighDensity             SuspiciousFeature = "high-density"
	FeatureLinearSegmentalCalcs    SuspiciousFeature = "linear-or-segmental-calcifications"
	FeatureArchitecturalDistortion SuspiciousFeature = "architectural-distortion"
	FeatureSkinThickening          SuspiciousFeature = "skin-thickening"
)

// DensityCategory is the BI-RADS breast composition class of a study.
type DensityCategory string

const (
	DensityA DensityCategory = "A"
	DensityB DensityCategory = "B"
	DensityC DensityCategory = "C"
	DensityD DensityCategory = "D"
)

// IsValid validates the density category.
func (d DensityCategory) IsValid() bool {
	switch d {
	case DensityA, DensityB, DensityC, DensityD:
		return true
	default:
		return false
	}
}

// IsDense reports whether the composition is heterogeneously or extremely dense.
func (d DensityCategory) IsDense() bool {
	return d == DensityC || d == DensityD
}

// ParseDensityCategory accepts "A".."D" in either case.
func ParseDensityCategory(s string) (DensityCategory, error) {
	d := DensityCategory(strings.ToUpper(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", ErrInvalidDensity
	}
	return d, nil
}

// RiskCategory buckets a patient risk score.
type RiskCategory string

const (
	RiskLow      RiskCategory = "low"
	RiskMedium   RiskCategory = "medium"
	RiskHigh     RiskCategory = "high"
	RiskVeryHigh RiskCategory = "very-high"
)

// IsElevated reports whether the category is high or very high.
func (r RiskCategory) IsElevated() bool {
	return r == RiskHigh || r == RiskVeryHigh
}

// FamilyHistory is the highest applicable tier of breast cancer family history.
type FamilyHistory string

const (
	FamilyHistoryNone                FamilyHistory = "none"
	FamilyHistorySecondDegree        FamilyHistory = "second-degree"
	FamilyHistoryFirstDegree         FamilyHistory = "first-degree"
	FamilyHistoryMultipleFirstDegree FamilyHistory = "multiple-first-degree"
)

// IsPresent reports whether any family history was recorded.
func (f FamilyHistory) IsPresent() bool {
	switch f {
	case FamilyHistorySecondDegree, FamilyHistoryFirstDegree, FamilyHistoryMultipleFirstDegree:
		return true
	default:
		return false
	}
}

// ChangeType classifies a longitudinal change between two studies.
type ChangeType string

const (
	ChangeNewLesion       ChangeType = "new-lesion"
	ChangeGrowingLesion   ChangeType = "growing-lesion"
	ChangeShrinkingLesion ChangeType = "shrinking-lesion"
	ChangeStableLesion    ChangeType = "stable-lesion"
	ChangeResolvedLesion  ChangeType = "resolved-lesion"
	ChangeDensity         ChangeType = "density-change"
)

// Urgency is how soon a recommendation should be acted on.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyShortTerm Urgency = "short-term"
	UrgencyRoutine   Urgency = "routine"
)

// Priority maps urgency to a sortable priority where 1 is most urgent.
func (u Urgency) Priority() int {
	switch u {
	case UrgencyImmediate:
		return 1
	case UrgencyShortTerm:
		return 2
	default:
		return 3
	}
}

// IsValid validates the urgency.
func (u Urgency) IsValid() bool {
	return u == UrgencyImmediate || u == UrgencyShortTerm || u == UrgencyRoutine
}

// RecommendationType identifies a recommendation template.
type RecommendationType string

const (
	RecommendBiopsy              RecommendationType = "biopsy"
	RecommendSurgicalConsult     RecommendationType = "surgical-consultation"
	RecommendMRI                 RecommendationType = "mri"
	RecommendUltrasound          RecommendationType = "ultrasound"
	RecommendShortFollowUp       RecommendationType = "short-term-follow-up"
	RecommendRiskCounseling      RecommendationType = "risk-reduction-counseling"
	RecommendDensityNotification RecommendationType = "density-notification"
)

// Validation errors for medical data integrity
var (
	ErrInvalidLaterality = errors.New("invalid laterality")
	ErrInvalidDensity    = errors.New("invalid density category")
	ErrInvalidView       = errors.New("invalid view position")
)
