package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

// ComparisonEngine matches findings across two time points and classifies
// each as new, growing, shrinking, stable, resolved or density-changed.
// It holds no state between calls.
type ComparisonEngine struct {
	rules rules.ComparisonRules
}

// NewComparisonEngine creates a comparison engine over the given tables
func NewComparisonEngine(rs *rules.RuleSet) *ComparisonEngine {
	return &ComparisonEngine{rules: rs.Comparison}
}

// SelectBaseline picks the most recent prior study strictly before the current
// study that shares its view position and laterality and has at least one
// finding. Equal dates resolve to the lowest study ID. It returns nil when no
// prior qualifies.
func SelectBaseline(priors []domain.PriorStudy, current domain.StudyMetadata) *domain.PriorStudy {
	var best *domain.PriorStudy
	for i := range priors {
		p := &priors[i]
		if p.StudyID == current.StudyID || len(p.Findings) == 0 {
			continue
		}
		if p.ViewPosition != current.ViewPosition || p.Laterality != current.Laterality {
			continue
		}
		if !current.StudyDate.IsZero() && !p.StudyDate.Before(current.StudyDate) {
			continue
		}
		if best == nil || p.StudyDate.After(best.StudyDate) ||
			(p.StudyDate.Equal(best.StudyDate) && p.StudyID < best.StudyID) {
			best = p
		}
	}
	return best
}

// Compare classifies the current findings against the baseline. A nil baseline,
// or one without findings, reports every current finding as new.
func (e *ComparisonEngine) Compare(current []domain.ClassifiedFinding, baseline *domain.PriorStudy, currentDate time.Time) domain.Comparison {
	if baseline == nil || len(baseline.Findings) == 0 {
		return e.noBaseline(current)
	}

	changes := make([]domain.ComparisonChange, 0, len(current)+len(baseline.Findings))
	var significant []string
	matchedBaseline := make(map[string]bool, len(baseline.Findings))

	for _, cur := range current {
		base, score, ok := e.bestMatch(cur, baseline.Findings)
		if !ok {
			changes = append(changes, domain.ComparisonChange{
				Type:       domain.ChangeNewLesion,
				LesionID:   cur.ID,
				Confidence: e.rules.UnmatchedConfidence,
			})
			significant = append(significant, fmt.Sprintf("New %s %s in %s %s", cur.Type, cur.ID, cur.Location.Laterality, cur.Location.Quadrant))
			continue
		}
		matchedBaseline[base.ID] = true

		sizeChange := relativeSizeChange(cur.Size.MaxDimension(), base.Size.MaxDimension())
		sizePct := round2(sizeChange * 100)
		volumePct := round2((math.Pow(1+sizeChange, 3) - 1) * 100)

		changeType := domain.ChangeStableLesion
		switch {
		case sizeChange > e.rules.GrowthThreshold:
			changeType = domain.ChangeGrowingLesion
			significant = append(significant, fmt.Sprintf("%s %s grew %.0f%% since baseline", cur.Type, cur.ID, sizePct))
		case sizeChange < -e.rules.GrowthThreshold:
			changeType = domain.ChangeShrinkingLesion
		}

		changes = append(changes, domain.ComparisonChange{
			Type:             changeType,
			LesionID:         cur.ID,
			BaselineLesionID: base.ID,
			Confidence:       round2(score),
			Measurements: domain.ChangeMeasurements{
				SizeChangePercent:   &sizePct,
				VolumeChangePercent: &volumePct,
			},
		})

		densityChange := e.densityChange(cur, base)
		if math.Abs(densityChange) > e.rules.DensityThreshold {
			dc := round2(densityChange)
			changes = append(changes, domain.ComparisonChange{
				Type:             domain.ChangeDensity,
				LesionID:         cur.ID,
				BaselineLesionID: base.ID,
				Confidence:       round2(score),
				Measurements:     domain.ChangeMeasurements{DensityChange: &dc},
			})
			significant = append(significant, fmt.Sprintf("%s %s density changed by %+.2f", cur.Type, cur.ID, dc))
		}
	}

	for _, base := range baseline.Findings {
		if matchedBaseline[base.ID] {
			continue
		}
		changes = append(changes, domain.ComparisonChange{
			Type:       domain.ChangeResolvedLesion,
			LesionID:   base.ID,
			Confidence: e.rules.UnmatchedConfidence,
		})
		significant = append(significant, fmt.Sprintf("Previously seen %s %s has resolved", base.Type, base.ID))
	}

	baselineID := baseline.StudyID
	summary := domain.ComparisonSummary{
		BaselineStudyID:     &baselineID,
		Counts:              countChanges(changes),
		SignificantFindings: nonNilStrings(significant),
		IntervalMonths:      e.intervalMonths(currentDate, baseline.StudyDate),
	}
	summary.StabilityScore = stabilityScore(summary.Counts, len(changes))

	return domain.Comparison{Changes: changes, Summary: summary}
}

func (e *ComparisonEngine) noBaseline(current []domain.ClassifiedFinding) domain.Comparison {
	changes := make([]domain.ComparisonChange, 0, len(current))
	for _, cur := range current {
		changes = append(changes, domain.ComparisonChange{
			Type:       domain.ChangeNewLesion,
			LesionID:   cur.ID,
			Confidence: e.rules.UnmatchedConfidence,
		})
	}
	return domain.Comparison{
		Changes: changes,
		Summary: domain.ComparisonSummary{
			BaselineStudyID:     nil,
			NoBaseline:          true,
			Counts:              countChanges(changes),
			StabilityScore:      0,
			SignificantFindings: []string{},
		},
	}
}

// bestMatch returns the highest-scoring baseline finding at or above the match
// threshold. Findings in a different breast or quadrant are never candidates.
// Equal scores resolve to the lowest baseline ID.
func (e *ComparisonEngine) bestMatch(cur domain.ClassifiedFinding, baseline []domain.ClassifiedFinding) (domain.ClassifiedFinding, float64, bool) {
	var best domain.ClassifiedFinding
	bestScore := -1.0
	found := false
	for _, base := range baseline {
		if e.locationScore(cur.Location, base.Location) == 0 {
			continue
		}
		score := e.Similarity(cur, base)
		if score < e.rules.MatchThreshold {
			continue
		}
		if !found || score > bestScore || (score == bestScore && base.ID < best.ID) {
			best, bestScore, found = base, score, true
		}
	}
	return best, bestScore, found
}

// Similarity is the weighted location, feature and size similarity of two findings.
func (e *ComparisonEngine) Similarity(a, b domain.ClassifiedFinding) float64 {
	return e.rules.LocationWeight*e.locationScore(a.Location, b.Location) +
		e.rules.FeatureWeight*e.featureScore(a, b) +
		e.rules.SizeWeight*sizeScore(a.Size.MaxDimension(), b.Size.MaxDimension())
}

func (e *ComparisonEngine) locationScore(a, b domain.Location) float64 {
	if a.Laterality != b.Laterality || a.Quadrant != b.Quadrant {
		return 0
	}
	score := e.rules.LocationBase
	if a.ClockPosition != nil && b.ClockPosition != nil {
		score += e.rules.ClockBonus * (1 - float64(clockDistance(*a.ClockPosition, *b.ClockPosition))/6)
	}
	if a.Depth.IsKnown() && a.Depth == b.Depth {
		score += e.rules.DepthBonus
	}
	return math.Min(score, 1)
}

// clockDistance is the circular distance between two clock hours, at most 6.
func clockDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= 12
	if d > 6 {
		d = 12 - d
	}
	return d
}

func (e *ComparisonEngine) featureScore(a, b domain.ClassifiedFinding) float64 {
	score := 0.0
	if a.Type == b.Type {
		score += e.rules.TypeWeight
	}
	if a.Characteristics.Shape == b.Characteristics.Shape {
		score += e.rules.ShapeWeight
	}
	if a.Characteristics.Margin == b.Characteristics.Margin {
		score += e.rules.MarginWeight
	}
	if a.Characteristics.Density == b.Characteristics.Density {
		score += e.rules.DensityWeight
	}
	return score
}

func sizeScore(a, b float64) float64 {
	hi, lo := math.Max(a, b), math.Min(a, b)
	if hi == 0 {
		return 1
	}
	return lo / hi
}

// relativeSizeChange is (current-baseline)/baseline. A zero baseline counts as
// full growth unless the current lesion is also unmeasured.
func relativeSizeChange(current, baseline float64) float64 {
	if baseline <= 0 {
		if current <= 0 {
			return 0
		}
		return 1
	}
	return (current - baseline) / baseline
}

// densityChange uses the raw density ratios when both findings carry one and
// otherwise the difference on the ordinal lesion-density scale.
func (e *ComparisonEngine) densityChange(cur, base domain.ClassifiedFinding) float64 {
	c, b := cur.Characteristics.DensityRatio, base.Characteristics.DensityRatio
	if c > 0 && b > 0 {
		return (c - b) / b
	}
	return cur.Characteristics.Density.Ordinal() - base.Characteristics.Density.Ordinal()
}

func (e *ComparisonEngine) intervalMonths(current, baseline time.Time) int {
	if current.IsZero() || baseline.IsZero() {
		return 0
	}
	days := math.Abs(current.Sub(baseline).Hours()) / 24
	return int(math.Round(days / e.rules.DaysPerMonth))
}

func countChanges(changes []domain.ComparisonChange) map[domain.ChangeType]int {
	counts := map[domain.ChangeType]int{
		domain.ChangeNewLesion:       0,
		domain.ChangeGrowingLesion:   0,
		domain.ChangeShrinkingLesion: 0,
		domain.ChangeStableLesion:    0,
		domain.ChangeResolvedLesion:  0,
		domain.ChangeDensity:         0,
	}
	for _, c := range changes {
		counts[c.Type]++
	}
	return counts
}

// stabilityScore is the share of non-new changes that are stable, as a percentage.
func stabilityScore(counts map[domain.ChangeType]int, total int) int {
	denominator := total - counts[domain.ChangeNewLesion]
	if denominator <= 0 {
		return 0
	}
	return int(math.Round(float64(counts[domain.ChangeStableLesion]) / float64(denominator) * 100))
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// changeIDs returns the sorted lesion IDs of the changes with the given type.
func changeIDs(c domain.Comparison, t domain.ChangeType) []string {
	var ids []string
	for _, ch := range c.Changes {
		if ch.Type == t {
			ids = append(ids, ch.LesionID)
		}
	}
	sort.Strings(ids)
	return ids
}
