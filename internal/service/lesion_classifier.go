package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

// LesionClassifier converts raw detections into typed clinical findings.
// Ambiguous feature combinations resolve toward the more suspicious descriptor.
type LesionClassifier struct {
	rules rules.ClassifierRules
}

// NewLesionClassifier creates a classifier over the given tables
func NewLesionClassifier(rs *rules.RuleSet) *LesionClassifier {
	return &LesionClassifier{rules: rs.Classifier}
}

// Classify converts one detection into a finding. index is the detection's
// 1-based position in the study, used to derive an ID when none is supplied.
// The BI-RADS assessment is left empty for the severity scorer.
func (c *LesionClassifier) Classify(det domain.LesionDetection, meta domain.StudyMetadata, index int) (domain.ClassifiedFinding, error) {
	if err := meta.Validate(); err != nil {
		return domain.ClassifiedFinding{}, err
	}
	if det.BoundingBox == nil {
		return domain.ClassifiedFinding{}, domain.NewInvalidInput("bbox", "bounding box is required")
	}
	box := *det.BoundingBox
	if !(box.Width() > 0) || !(box.Height() > 0) {
		return domain.ClassifiedFinding{}, domain.NewInvalidInput("bbox", fmt.Sprintf("bounding box has non-positive extent %vx%v", box.Width(), box.Height()))
	}

	score := normalizeScore(det.Score)
	features := det.Features

	lesionType, typeConfidence := c.lesionType(features, score)
	shape, shapeMatched := c.shape(features, box)
	margin, marginMatched := c.margin(features)

	characteristics := domain.Characteristics{
		Shape:        shape,
		Margin:       margin,
		Density:      c.density(features),
		DensityRatio: features.DensityRatio,
	}
	if lesionType == domain.LesionCalcification {
		characteristics.Distribution = c.distribution(features)
	}

	spacing := meta.Spacing()
	finding := domain.ClassifiedFinding{
		ID:              findingID(det, meta, index),
		Type:            lesionType,
		Location:        c.location(box, meta),
		Characteristics: characteristics,
		Size: domain.Size{
			Width:  box.Width() * spacing,
			Height: box.Height() * spacing,
		},
		Score: score,
	}
	finding.SuspiciousFeatures = suspiciousFeatures(finding, features)
	finding.ConfidenceScores = domain.ConfidenceScores{
		Overall: c.overallConfidence(score, shape, margin),
		Type:    typeConfidence,
		Shape:   c.tableConfidence(shapeMatched),
		Margin:  c.tableConfidence(marginMatched),
	}

	return finding, nil
}

// normalizeScore maps NaN to the most suspicious score and clamps to [0,1].
func normalizeScore(s float64) float64 {
	if math.IsNaN(s) {
		return 1
	}
	return clamp01(s)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func findingID(det domain.LesionDetection, meta domain.StudyMetadata, index int) string {
	if det.ID != "" {
		return det.ID
	}
	return fmt.Sprintf("%s-F%d", meta.StudyID, index)
}

// lesionType applies the ordered type checks; the first match wins.
func (c *LesionClassifier) lesionType(f domain.FeatureScores, score float64) (domain.LesionType, float64) {
	switch {
	case f.Calcification > c.rules.CalcificationThreshold:
		return domain.LesionCalcification, clamp01(f.Calcification)
	case f.ArchitecturalDistortion:
		return domain.LesionDistortion, 1
	case f.Asymmetry > c.rules.AsymmetryThreshold:
		return domain.LesionAsymmetry, clamp01(f.Asymmetry)
	case f.LymphNode:
		return domain.LesionLymphNode, 1
	default:
		return domain.LesionMass, score
	}
}

func (c *LesionClassifier) location(box domain.BoundingBox, meta domain.StudyMetadata) domain.Location {
	cx, cy := box.Center()
	w, h := float64(meta.ImageWidth), float64(meta.ImageHeight)
	xRatio, yRatio := cx/w, cy/h

	loc := domain.Location{
		Laterality: meta.Laterality,
		Quadrant:   c.quadrant(xRatio, yRatio),
		Depth:      domain.DepthUnknown,
	}
	if meta.ViewPosition.IsOblique() {
		loc.ClockPosition = clockPosition(cx-w/2, cy-h/2)
		loc.Depth = c.depth(yRatio)
	}
	return loc
}

func (c *LesionClassifier) quadrant(xRatio, yRatio float64) domain.Quadrant {
	upper := yRatio < c.rules.UpperYRatio
	switch {
	case xRatio > c.rules.OuterXRatio:
		if upper {
			return domain.QuadrantUOQ
		}
		return domain.QuadrantLOQ
	case xRatio < c.rules.InnerXRatio:
		if upper {
			return domain.QuadrantUIQ
		}
		return domain.QuadrantLIQ
	default:
		return domain.QuadrantCentral
	}
}

// clockPosition maps an offset from the image center (y grows downward) to a
// clock hour in [1,12]. 12 o'clock is straight up and hours advance clockwise.
// An offset of exactly zero has no defined direction.
func clockPosition(dx, dy float64) *int {
	if dx == 0 && dy == 0 {
		return nil
	}
	angle := math.Atan2(dx, -dy)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	hour := int(math.Round(angle/(math.Pi/6))) % 12
	if hour == 0 {
		hour = 12
	}
	return &hour
}

func (c *LesionClassifier) depth(yRatio float64) domain.Depth {
	switch {
	case yRatio < c.rules.AnteriorYRatio:
		return domain.DepthAnterior
	case yRatio > c.rules.PosteriorRatio:
		return domain.DepthPosterior
	default:
		return domain.DepthMiddle
	}
}

func (c *LesionClassifier) shape(f domain.FeatureScores, box domain.BoundingBox) (domain.Shape, bool) {
	aspect := aspectRatio(f.AspectRatio, box)
	for _, r := range c.rules.ShapeRules {
		if r.Circularity.Contains(f.Circularity) && r.AspectRatio.Contains(aspect) {
			return r.Shape, true
		}
	}
	return domain.ShapeIrregular, false
}

// aspectRatio returns the long/short side ratio, deriving it from the box when
// the detector did not measure it.
func aspectRatio(measured float64, box domain.BoundingBox) float64 {
	if measured > 0 {
		if measured < 1 {
			return 1 / measured
		}
		return measured
	}
	long, short := box.Width(), box.Height()
	if short > long {
		long, short = short, long
	}
	return long / short
}

func (c *LesionClassifier) margin(f domain.FeatureScores) (domain.Margin, bool) {
	for _, r := range c.rules.MarginRules {
		if r.EdgeSharpness.Contains(f.EdgeSharpness) && r.TextureContrast.Contains(f.TextureContrast) {
			return r.Margin, true
		}
	}
	return domain.MarginIndistinct, false
}

func (c *LesionClassifier) density(f domain.FeatureScores) domain.LesionDensity {
	ratio := f.DensityRatio
	if ratio <= 0 || math.IsNaN(ratio) {
		ratio = 1
	}
	switch {
	case ratio > c.rules.HighDensityRatio:
		return domain.LesionDensityHigh
	case ratio < c.rules.LowDensityRatio:
		return domain.LesionDensityLow
	case f.FatContent > c.rules.FatContent:
		return domain.LesionDensityFatContaining
	default:
		return domain.LesionDensityEqual
	}
}

func (c *LesionClassifier) distribution(f domain.FeatureScores) domain.Distribution {
	switch {
	case f.Segmental:
		return domain.DistributionSegmental
	case f.Linearity > c.rules.LinearityThreshold:
		return domain.DistributionLinear
	case f.ClusterDensity > c.rules.ClusterThreshold:
		return domain.DistributionGrouped
	default:
		return domain.DistributionRegional
	}
}

// suspiciousFeatures returns the sorted, duplicate-free set of secondary features.
func suspiciousFeatures(finding domain.ClassifiedFinding, f domain.FeatureScores) []domain.SuspiciousFeature {
	set := make(map[domain.SuspiciousFeature]struct{})
	ch := finding.Characteristics

	if ch.Margin == domain.MarginSpiculated {
		set[domain.FeatureSpiculatedMargin] = struct{}{}
	}
	if ch.Margin == domain.MarginIndistinct {
		set[domain.FeatureIndistinctMargin] = struct{}{}
	}
	if ch.Shape == domain.ShapeIrregular {
		set[domain.FeatureIrregularShape] = struct{}{}
	}
	if ch.Density == domain.LesionDensityHigh {
		set[domain.FeatureHighDensity] = struct{}{}
	}
	if ch.Distribution == domain.DistributionLinear || ch.Distribution == domain.DistributionSegmental {
		set[domain.FeatureLinearSegmentalCalcs] = struct{}{}
	}
	if f.ArchitecturalDistortion || finding.Type == domain.LesionDistortion {
		set[domain.FeatureArchitecturalDistortion] = struct{}{}
	}
	if f.SkinThickening {
		set[domain.FeatureSkinThickening] = struct{}{}
	}

	out := make([]domain.SuspiciousFeature, 0, len(set))
	for sf := range set {
		out = append(out, sf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *LesionClassifier) overallConfidence(score float64, shape domain.Shape, margin domain.Margin) float64 {
	conf := score * c.rules.ScoreWeight
	if shape == domain.ShapeRound || shape == domain.ShapeOval {
		conf += c.rules.FavorableBonus
	}
	if margin == domain.MarginCircumscribed {
		conf += c.rules.FavorableBonus
	}
	if shape == domain.ShapeIrregular {
		conf -= c.rules.UnfavorablePenalty
	}
	if margin == domain.MarginIndistinct {
		conf -= c.rules.UnfavorablePenalty
	}
	return clamp01(conf)
}

func (c *LesionClassifier) tableConfidence(matched bool) float64 {
	if matched {
		return c.rules.TableMatchConfidence
	}
	return c.rules.DefaultConfidence
}
