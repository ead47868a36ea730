// Package rules holds the lookup tables that drive finding classification,
// BI-RADS scoring, risk weighting, longitudinal matching and recommendations.
//
// A RuleSet is plain data. Engine components receive it explicitly, so tests
// and deployments can substitute alternate tables without touching globals.
package rules

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mammography-findings-server/internal/domain"
)

// Range is a half-open interval [Min, Max). A zero Max leaves the range unbounded above.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v float64) bool {
	if v < r.Min {
		return false
	}
	return r.Max == 0 || v < r.Max
}

func (r Range) validate() error {
	if r.Max != 0 && r.Max <= r.Min {
		return fmt.Errorf("range max %v must exceed min %v", r.Max, r.Min)
	}
	return nil
}

// ShapeRule maps circularity and aspect ratio to a shape descriptor.
type ShapeRule struct {
	Shape       domain.Shape `yaml:"shape"`
	Circularity Range        `yaml:"circularity"`
	AspectRatio Range        `yaml:"aspect_ratio"`
}

// MarginRule maps edge sharpness and texture contrast to a margin descriptor.
type MarginRule struct {
	Margin          domain.Margin `yaml:"margin"`
	EdgeSharpness   Range         `yaml:"edge_sharpness"`
	TextureContrast Range         `yaml:"texture_contrast"`
}

// ClassifierRules are the thresholds of the lesion classifier.
type ClassifierRules struct {
	CalcificationThreshold float64 `yaml:"calcification_threshold"`
	AsymmetryThreshold     float64 `yaml:"asymmetry_threshold"`

	OuterXRatio    float64 `yaml:"outer_x_ratio"`
	InnerXRatio    float64 `yaml:"inner_x_ratio"`
	UpperYRatio    float64 `yaml:"upper_y_ratio"`
	AnteriorYRatio float64 `yaml:"anterior_y_ratio"`
	PosteriorRatio float64 `yaml:"posterior_y_ratio"`

	HighDensityRatio float64 `yaml:"high_density_ratio"`
	LowDensityRatio  float64 `yaml:"low_density_ratio"`
	FatContent       float64 `yaml:"fat_content"`

	LinearityThreshold float64 `yaml:"linearity_threshold"`
	ClusterThreshold   float64 `yaml:"cluster_threshold"`

	ShapeRules  []ShapeRule  `yaml:"shape_rules"`
	MarginRules []MarginRule `yaml:"margin_rules"`

	TableMatchConfidence float64 `yaml:"table_match_confidence"`
	DefaultConfidence    float64 `yaml:"default_confidence"`

	ScoreWeight        float64 `yaml:"score_weight"`
	FavorableBonus     float64 `yaml:"favorable_bonus"`
	UnfavorablePenalty float64 `yaml:"unfavorable_penalty"`
}

// ScoreThreshold assigns Category to scores below Below. SuspiciousCategory,
// when set, replaces Category for spiculated or irregular findings.
type ScoreThreshold struct {
	Below              float64               `yaml:"below"`
	Category           domain.BIRADSCategory `yaml:"category"`
	SuspiciousCategory domain.BIRADSCategory `yaml:"suspicious_category,omitempty"`
}

// SeverityRules are the BI-RADS assignment tables.
type SeverityRules struct {
	Thresholds      []ScoreThreshold                          `yaml:"thresholds"`
	AboveAll        domain.BIRADSCategory                     `yaml:"above_all"`
	BiopsyProven    domain.BIRADSCategory                     `yaml:"biopsy_proven"`
	FollowUp        map[domain.BIRADSCategory]string          `yaml:"followup"`
	Descriptions    map[domain.BIRADSCategory]string          `yaml:"descriptions"`
	DenseEscalation map[domain.DensityCategory]EscalationRule `yaml:"dense_escalation"`
}

// EscalationRule escalates an overall assessment below Below to Category.
type EscalationRule struct {
	Below          domain.BIRADSCategory `yaml:"below"`
	Category       domain.BIRADSCategory `yaml:"category"`
	LimitingFactor string                `yaml:"limiting_factor"`
}

// RiskRules are the weights of the patient risk score.
type RiskRules struct {
	AgeBase       float64 `yaml:"age_base"`
	AgeDecadeStep float64 `yaml:"age_decade_step"`
	AgeScale      float64 `yaml:"age_scale"`

	DensityWeights map[domain.DensityCategory]float64 `yaml:"density_weights"`
	DensityScale   float64                            `yaml:"density_scale"`

	FindingWeights        map[domain.BIRADSCategory]float64 `yaml:"finding_weights"`
	CalcificationFallback float64                           `yaml:"calcification_fallback"`
	FindingScale          float64                           `yaml:"finding_scale"`

	FamilyHistoryWeights map[domain.FamilyHistory]float64 `yaml:"family_history_weights"`
	FamilyHistoryScale   float64                          `yaml:"family_history_scale"`

	EarlyMenarche     float64 `yaml:"early_menarche"`
	LateMenopause     float64 `yaml:"late_menopause"`
	Nulliparous       float64 `yaml:"nulliparous"`
	FirstChildAfter30 float64 `yaml:"first_child_after_30"`
	HormonalScale     float64 `yaml:"hormonal_scale"`

	VeryHighAt int `yaml:"very_high_at"`
	HighAt     int `yaml:"high_at"`
	MediumAt   int `yaml:"medium_at"`
}

// ComparisonRules are the weights and thresholds of longitudinal matching.
type ComparisonRules struct {
	LocationWeight float64 `yaml:"location_weight"`
	FeatureWeight  float64 `yaml:"feature_weight"`
	SizeWeight     float64 `yaml:"size_weight"`

	LocationBase float64 `yaml:"location_base"`
	ClockBonus   float64 `yaml:"clock_bonus"`
	DepthBonus   float64 `yaml:"depth_bonus"`

	TypeWeight    float64 `yaml:"type_weight"`
	ShapeWeight   float64 `yaml:"shape_weight"`
	MarginWeight  float64 `yaml:"margin_weight"`
	DensityWeight float64 `yaml:"density_weight"`

	MatchThreshold      float64 `yaml:"match_threshold"`
	GrowthThreshold     float64 `yaml:"growth_threshold"`
	DensityThreshold    float64 `yaml:"density_threshold"`
	UnmatchedConfidence float64 `yaml:"unmatched_confidence"`
	DaysPerMonth        float64 `yaml:"days_per_month"`
}

// Template is the recommendation a rule emits. Description may contain the
// placeholders {risk_score} and {density}.
type Template struct {
	Type        domain.RecommendationType `yaml:"type"`
	Urgency     domain.Urgency            `yaml:"urgency"`
	Description string                    `yaml:"description"`
	Evidence    []string                  `yaml:"evidence"`
}

// Rule maps a trigger combination to a recommendation template. Annotations
// are optional triggers whose sources are attached as supporting findings.
type Rule struct {
	ID          string    `yaml:"id"`
	AllOf       []Trigger `yaml:"all_of"`
	AnyOf       []Trigger `yaml:"any_of"`
	Annotations []Trigger `yaml:"annotations"`
	Template    Template  `yaml:"template"`
}

// RecommendationRules is the ordered rule table plus trigger thresholds.
// A risk score above RiskScoreThreshold raises the risk-elevated trigger
// unless every contributing factor is listed in BaselineFactors. An empty
// list applies the threshold alone.
type RecommendationRules struct {
	RiskScoreThreshold int      `yaml:"risk_score_threshold"`
	BaselineFactors    []string `yaml:"baseline_factors"`
	Rules              []Rule   `yaml:"rules"`
}

// ExplanationRules holds patient-facing templates per language.
type ExplanationRules struct {
	DefaultLanguage string                                          `yaml:"default_language"`
	Templates       map[string]map[domain.RecommendationType]string `yaml:"templates"`
	DefaultDetails  map[string]map[domain.RecommendationType]string `yaml:"default_details"`
	DensityClauses  map[string]map[domain.DensityCategory]string    `yaml:"density_clauses"`
}

// RuleSet bundles every table the engine consumes.
type RuleSet struct {
	Version         string              `yaml:"version"`
	Classifier      ClassifierRules     `yaml:"classifier"`
	Severity        SeverityRules       `yaml:"severity"`
	Risk            RiskRules           `yaml:"risk"`
	Comparison      ComparisonRules     `yaml:"comparison"`
	Recommendations RecommendationRules `yaml:"recommendations"`
	Explanations    ExplanationRules    `yaml:"explanations"`
}

// LoadFile reads YAML overrides from path on top of Default and validates the result.
// Lists in the file replace the defaults; maps are merged key by key.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML overrides on top of Default and validates the result.
func Parse(data []byte) (*RuleSet, error) {
	rs := Default()
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	return rs, nil
}

// FromConfig returns the rule set an engine configuration selects: the
// defaults or the overrides file, with the configured explanation language.
func FromConfig(cfg domain.EngineConfig) (*RuleSet, error) {
	rs := Default()
	if cfg.RulesFile != "" {
		loaded, err := LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rs = loaded
	}
	if cfg.DefaultLanguage != "" {
		rs.Explanations.DefaultLanguage = cfg.DefaultLanguage
		if err := rs.Explanations.validate(); err != nil {
			return nil, fmt.Errorf("invalid rules: explanations: %w", err)
		}
	}
	return rs, nil
}

// Validate checks the internal consistency of every table.
func (rs *RuleSet) Validate() error {
	if rs.Version == "" {
		return errors.New("version is required")
	}
	if err := rs.Classifier.validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	if err := rs.Severity.validate(); err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	if err := rs.Risk.validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := rs.Comparison.validate(); err != nil {
		return fmt.Errorf("comparison: %w", err)
	}
	if err := rs.Recommendations.validate(); err != nil {
		return fmt.Errorf("recommendations: %w", err)
	}
	if err := rs.Explanations.validate(); err != nil {
		return fmt.Errorf("explanations: %w", err)
	}
	return nil
}

func (c ClassifierRules) validate() error {
	if c.InnerXRatio >= c.OuterXRatio {
		return fmt.Errorf("inner_x_ratio %v must be below outer_x_ratio %v", c.InnerXRatio, c.OuterXRatio)
	}
	if c.AnteriorYRatio >= c.PosteriorRatio {
		return fmt.Errorf("anterior_y_ratio %v must be below posterior_y_ratio %v", c.AnteriorYRatio, c.PosteriorRatio)
	}
	if c.LowDensityRatio >= c.HighDensityRatio {
		return fmt.Errorf("low_density_ratio %v must be below high_density_ratio %v", c.LowDensityRatio, c.HighDensityRatio)
	}
	for i, r := range c.ShapeRules {
		if !r.Shape.IsValid() {
			return fmt.Errorf("shape_rules[%d]: unknown shape %q", i, r.Shape)
		}
		if err := r.Circularity.validate(); err != nil {
			return fmt.Errorf("shape_rules[%d].circularity: %w", i, err)
		}
		if err := r.AspectRatio.validate(); err != nil {
			return fmt.Errorf("shape_rules[%d].aspect_ratio: %w", i, err)
		}
	}
	for i, r := range c.MarginRules {
		if !r.Margin.IsValid() {
			return fmt.Errorf("margin_rules[%d]: unknown margin %q", i, r.Margin)
		}
		if err := r.EdgeSharpness.validate(); err != nil {
			return fmt.Errorf("margin_rules[%d].edge_sharpness: %w", i, err)
		}
		if err := r.TextureContrast.validate(); err != nil {
			return fmt.Errorf("margin_rules[%d].texture_contrast: %w", i, err)
		}
	}
	return nil
}

func (s SeverityRules) validate() error {
	if len(s.Thresholds) == 0 {
		return errors.New("at least one threshold is required")
	}
	prev := 0.0
	for i, t := range s.Thresholds {
		if t.Below <= prev || t.Below > 1 {
			return fmt.Errorf("thresholds[%d]: below %v must ascend within (0, 1]", i, t.Below)
		}
		prev = t.Below
		if !t.Category.IsValidForFinding() {
			return fmt.Errorf("thresholds[%d]: invalid category %q", i, t.Category)
		}
		if t.SuspiciousCategory != "" && !t.SuspiciousCategory.IsValidForFinding() {
			return fmt.Errorf("thresholds[%d]: invalid suspicious category %q", i, t.SuspiciousCategory)
		}
	}
	if !s.AboveAll.IsValidForFinding() {
		return fmt.Errorf("invalid above_all category %q", s.AboveAll)
	}
	if !s.BiopsyProven.IsValidForFinding() {
		return fmt.Errorf("invalid biopsy_proven category %q", s.BiopsyProven)
	}
	for _, c := range append(domain.FindingCategories(), domain.BIRADS0) {
		if s.FollowUp[c] == "" {
			return fmt.Errorf("missing followup for category %s", c)
		}
		if s.Descriptions[c] == "" {
			return fmt.Errorf("missing description for category %s", c)
		}
	}
	for d, e := range s.DenseEscalation {
		if !d.IsValid() || !e.Below.IsValid() || !e.Category.IsValid() {
			return fmt.Errorf("invalid dense escalation for density %q", d)
		}
	}
	return nil
}

func (r RiskRules) validate() error {
	if !(r.MediumAt < r.HighAt && r.HighAt < r.VeryHighAt) {
		return fmt.Errorf("category cut-offs must ascend: %d, %d, %d", r.MediumAt, r.HighAt, r.VeryHighAt)
	}
	for c := range r.FindingWeights {
		if !c.IsValidForFinding() {
			return fmt.Errorf("finding_weights: invalid category %q", c)
		}
	}
	for d := range r.DensityWeights {
		if !d.IsValid() {
			return fmt.Errorf("density_weights: invalid density %q", d)
		}
	}
	return nil
}

func (c ComparisonRules) validate() error {
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("match_threshold %v must lie in (0, 1]", c.MatchThreshold)
	}
	if c.DaysPerMonth <= 0 {
		return errors.New("days_per_month must be positive")
	}
	return nil
}

func (r RecommendationRules) validate() error {
	seen := make(map[string]bool, len(r.Rules))
	for i, rule := range r.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rules[%d]: id is required", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("rules[%d]: duplicate id %q", i, rule.ID)
		}
		seen[rule.ID] = true
		if len(rule.AllOf) == 0 && len(rule.AnyOf) == 0 {
			return fmt.Errorf("rule %s: at least one trigger is required", rule.ID)
		}
		for _, group := range [][]Trigger{rule.AllOf, rule.AnyOf, rule.Annotations} {
			for _, t := range group {
				if !t.IsValid() {
					return fmt.Errorf("rule %s: unknown trigger %q", rule.ID, t)
				}
			}
		}
		if rule.Template.Type == "" || rule.Template.Description == "" {
			return fmt.Errorf("rule %s: template type and description are required", rule.ID)
		}
		if !rule.Template.Urgency.IsValid() {
			return fmt.Errorf("rule %s: invalid urgency %q", rule.ID, rule.Template.Urgency)
		}
	}
	return nil
}

func (e ExplanationRules) validate() error {
	if e.DefaultLanguage == "" {
		return errors.New("default_language is required")
	}
	if len(e.Templates[e.DefaultLanguage]) == 0 {
		return fmt.Errorf("no templates for default language %q", e.DefaultLanguage)
	}
	return nil
}
