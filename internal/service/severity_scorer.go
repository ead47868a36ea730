package service

import (
	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

// SeverityScorer assigns BI-RADS categories to findings and derives the
// density-adjusted overall study assessment.
type SeverityScorer struct {
	rules rules.SeverityRules
}

// NewSeverityScorer creates a scorer over the given tables
func NewSeverityScorer(rs *rules.RuleSet) *SeverityScorer {
	return &SeverityScorer{rules: rs.Severity}
}

// Category maps a detection score and morphology to a finding category.
// Thresholds are exclusive above: a score equal to a threshold falls in the next band.
func (s *SeverityScorer) Category(score float64, shape domain.Shape, margin domain.Margin, biopsyProven bool) domain.BIRADSCategory {
	if biopsyProven {
		return s.rules.BiopsyProven
	}
	score = normalizeScore(score)
	suspicious := margin == domain.MarginSpiculated || shape == domain.ShapeIrregular
	for _, t := range s.rules.Thresholds {
		if score < t.Below {
			if suspicious && t.SuspiciousCategory != "" {
				return t.SuspiciousCategory
			}
			return t.Category
		}
	}
	return s.rules.AboveAll
}

// ScoreFinding returns the BI-RADS assessment for one classified finding.
func (s *SeverityScorer) ScoreFinding(f domain.ClassifiedFinding, biopsyProven bool) domain.BIRADSAssessment {
	return s.assessment(s.Category(f.Score, f.Characteristics.Shape, f.Characteristics.Margin, biopsyProven))
}

func (s *SeverityScorer) assessment(c domain.BIRADSCategory) domain.BIRADSAssessment {
	return domain.BIRADSAssessment{
		Category:    c,
		Description: s.rules.Descriptions[c],
		FollowUp:    s.rules.FollowUp[c],
	}
}

// FollowUp returns the follow-up interval for any category, including 0.
func (s *SeverityScorer) FollowUp(c domain.BIRADSCategory) string {
	return s.rules.FollowUp[c]
}

// Overall derives the study assessment from the most severe finding. With no
// findings the study is negative unless density escalation applies. An unknown
// density with no findings cannot support an assessment; with findings present
// the maximum category is reported without density escalation.
func (s *SeverityScorer) Overall(findings []domain.ClassifiedFinding, density domain.DensityCategory) (domain.OverallAssessment, error) {
	if len(findings) == 0 && !density.IsValid() {
		return domain.OverallAssessment{}, domain.NewInsufficientData("metadata.density", "no findings and no breast density category")
	}

	highest := domain.BIRADS1
	for _, f := range findings {
		c := f.BIRADS.Category
		if !c.IsValidForFinding() {
			continue
		}
		if c.MoreSevereThan(highest) {
			highest = c
		}
	}

	overall := domain.OverallAssessment{
		Category:    highest,
		Description: s.rules.Descriptions[highest],
	}

	if esc, ok := s.rules.DenseEscalation[density]; ok && highest.Rank() < esc.Below.Rank() {
		overall.Category = esc.Category
		overall.Description = s.rules.Descriptions[esc.Category]
		overall.LimitingFactor = esc.LimitingFactor
	}

	return overall, nil
}
