package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

// Risk factor labels, in the order they appear in an assessment.
const (
	RiskFactorAge          = "age"
	RiskFactorDensity      = "breast-density"
	RiskFactorFindings     = "imaging-findings"
	RiskFactorFamily       = "family-history"
	RiskFactorReproductive = "reproductive-history"
)

// RiskCalculator combines patient attributes and findings into a weighted risk score.
// Missing optional attributes contribute nothing.
type RiskCalculator struct {
	rules rules.RiskRules
}

// NewRiskCalculator creates a calculator over the given tables
func NewRiskCalculator(rs *rules.RuleSet) *RiskCalculator {
	return &RiskCalculator{rules: rs.Risk}
}

// Calculate returns the risk assessment for a patient at the study date.
func (r *RiskCalculator) Calculate(patient domain.PatientProfile, density domain.DensityCategory, findings []domain.ClassifiedFinding, studyDate time.Time) domain.RiskAssessment {
	var factors []domain.RiskFactor
	add := func(label string, contribution float64, details string) {
		if contribution > 0 {
			factors = append(factors, domain.RiskFactor{
				Factor:       label,
				Contribution: round2(contribution),
				Details:      details,
			})
		}
	}

	if age, ok := patient.AgeAt(studyDate); ok {
		add(RiskFactorAge, r.ageContribution(age), fmt.Sprintf("age %d at study date", age))
	}

	if w, ok := r.rules.DensityWeights[density]; ok {
		add(RiskFactorDensity, w*r.rules.DensityScale, fmt.Sprintf("breast density category %s", density))
	}

	add(RiskFactorFindings, r.findingsContribution(findings), findingsDetails(findings))

	if w, ok := r.rules.FamilyHistoryWeights[patient.FamilyHistory]; ok {
		add(RiskFactorFamily, w*r.rules.FamilyHistoryScale, fmt.Sprintf("%s relative(s) with breast cancer", patient.FamilyHistory))
	}

	hormonal, flags := r.hormonalContribution(patient)
	add(RiskFactorReproductive, hormonal, strings.Join(flags, ", "))

	total := 0.0
	for _, f := range factors {
		total += f.Contribution
	}
	score := int(math.Round(total))
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	if factors == nil {
		factors = []domain.RiskFactor{}
	}

	return domain.RiskAssessment{
		Score:    score,
		Category: r.category(score),
		Factors:  factors,
	}
}

func (r *RiskCalculator) ageContribution(age int) float64 {
	if age < 0 {
		return 0
	}
	return (r.rules.AgeBase + math.Floor(float64(age)/10)*r.rules.AgeDecadeStep) * r.rules.AgeScale
}

func (r *RiskCalculator) findingsContribution(findings []domain.ClassifiedFinding) float64 {
	sum := 0.0
	for _, f := range findings {
		if w, ok := r.rules.FindingWeights[f.BIRADS.Category]; ok {
			sum += w
			continue
		}
		if f.Type == domain.LesionCalcification {
			sum += r.rules.CalcificationFallback
		}
	}
	return sum * r.rules.FindingScale
}

func findingsDetails(findings []domain.ClassifiedFinding) string {
	highest := domain.BIRADSCategory("")
	for _, f := range findings {
		if f.BIRADS.Category.IsValidForFinding() && (highest == "" || f.BIRADS.Category.MoreSevereThan(highest)) {
			highest = f.BIRADS.Category
		}
	}
	if highest == "" {
		return fmt.Sprintf("%d finding(s)", len(findings))
	}
	return fmt.Sprintf("%d finding(s), highest BI-RADS %s", len(findings), highest)
}

func (r *RiskCalculator) hormonalContribution(p domain.PatientProfile) (float64, []string) {
	sum := 0.0
	var flags []string
	if p.EarlyMenarche {
		sum += r.rules.EarlyMenarche
		flags = append(flags, "early menarche")
	}
	if p.LateMenopause {
		sum += r.rules.LateMenopause
		flags = append(flags, "late menopause")
	}
	if p.Nulliparous {
		sum += r.rules.Nulliparous
		flags = append(flags, "nulliparous")
	}
	if p.FirstChildAfter30 {
		sum += r.rules.FirstChildAfter30
		flags = append(flags, "first child after 30")
	}
	return sum * r.rules.HormonalScale, flags
}

func (r *RiskCalculator) category(score int) domain.RiskCategory {
	switch {
	case score >= r.rules.VeryHighAt:
		return domain.RiskVeryHigh
	case score >= r.rules.HighAt:
		return domain.RiskHigh
	case score >= r.rules.MediumAt:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
