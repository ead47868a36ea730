package service

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

// RecommendationInput gathers the engine outputs a recommendation pass consumes.
// Comparison may be nil when no comparison was attempted.
type RecommendationInput struct {
	Findings   []domain.ClassifiedFinding
	Risk       domain.RiskAssessment
	Comparison *domain.Comparison
	Density    domain.DensityCategory
	Patient    domain.PatientProfile
}

// RecommendationEngine applies the ordered rule table to a study's trigger set.
type RecommendationEngine struct {
	rules rules.RecommendationRules
}

// NewRecommendationEngine creates a recommendation engine over the given tables
func NewRecommendationEngine(rs *rules.RuleSet) *RecommendationEngine {
	return &RecommendationEngine{rules: rs.Recommendations}
}

// Triggers builds the trigger set for a study. Each trigger records the
// supporting strings that raised it.
func (e *RecommendationEngine) Triggers(in RecommendationInput) *rules.TriggerSet {
	set := rules.NewTriggerSet()

	byID := make(map[string]domain.ClassifiedFinding, len(in.Findings))
	for _, f := range in.Findings {
		byID[f.ID] = f
		if t, ok := rules.BIRADSTrigger(f.BIRADS.Category); ok {
			set.Add(t, fmt.Sprintf("%s: BI-RADS %s %s", f.ID, f.BIRADS.Category, f.Type))
		}
		if f.Type == domain.LesionAsymmetry {
			set.Add(rules.TriggerAsymmetry, fmt.Sprintf("%s: asymmetry in %s %s", f.ID, f.Location.Laterality, f.Location.Quadrant))
		}
	}

	if in.Comparison != nil && !in.Comparison.Summary.NoBaseline {
		for _, id := range changeIDs(*in.Comparison, domain.ChangeNewLesion) {
			if f, ok := byID[id]; ok && f.Type == domain.LesionMass {
				set.Add(rules.TriggerNewMass, fmt.Sprintf("%s: new mass since prior study", id))
			}
		}
	}

	if t, ok := rules.DensityTrigger(in.Density); ok {
		set.Add(t, fmt.Sprintf("breast density category %s", in.Density))
	}

	if in.Risk.Category.IsElevated() {
		set.Add(rules.TriggerHighRisk, fmt.Sprintf("%s risk (score %d)", in.Risk.Category, in.Risk.Score))
	}
	if in.Risk.Score > e.rules.RiskScoreThreshold && !e.baselineOnly(in.Risk) {
		set.Add(rules.TriggerRiskElevated, fmt.Sprintf("risk score %d", in.Risk.Score))
	}

	if in.Patient.FamilyHistory.IsPresent() {
		set.Add(rules.TriggerFamilyHistory, fmt.Sprintf("family history: %s", in.Patient.FamilyHistory))
	}

	return set
}

// baselineOnly reports whether every factor behind the score is a baseline
// factor. A score with no factors is never baseline-only.
func (e *RecommendationEngine) baselineOnly(risk domain.RiskAssessment) bool {
	if len(e.rules.BaselineFactors) == 0 || len(risk.Factors) == 0 {
		return false
	}
	for _, f := range risk.Factors {
		if !slices.Contains(e.rules.BaselineFactors, f.Factor) {
			return false
		}
	}
	return true
}

// Recommend returns recommendations deduplicated by (type, description) and
// stably sorted by ascending priority.
func (e *RecommendationEngine) Recommend(in RecommendationInput) []domain.Recommendation {
	return e.apply(e.Triggers(in), in)
}

func (e *RecommendationEngine) apply(set *rules.TriggerSet, in RecommendationInput) []domain.Recommendation {
	type key struct {
		t    domain.RecommendationType
		desc string
	}
	seen := make(map[key]bool)
	out := []domain.Recommendation{}

	for _, rule := range e.rules.Rules {
		if !rule.Matches(set) {
			continue
		}
		desc := renderDescription(rule.Template.Description, in)
		k := key{rule.Template.Type, desc}
		if seen[k] {
			continue
		}
		seen[k] = true

		out = append(out, domain.Recommendation{
			Type:               rule.Template.Type,
			Urgency:            rule.Template.Urgency,
			Description:        desc,
			Evidence:           append([]string{}, rule.Template.Evidence...),
			Priority:           rule.Template.Urgency.Priority(),
			SupportingFindings: supportingFindings(rule, set),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func renderDescription(tmpl string, in RecommendationInput) string {
	r := strings.NewReplacer(
		"{risk_score}", strconv.Itoa(in.Risk.Score),
		"{density}", string(in.Density),
	)
	return r.Replace(tmpl)
}

func supportingFindings(rule rules.Rule, set *rules.TriggerSet) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range rule.MatchedTriggers(set) {
		for _, s := range set.Sources(t) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
