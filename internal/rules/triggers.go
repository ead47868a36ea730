package rules

import "github.com/mammography-findings-server/internal/domain"

// Trigger is one condition the recommendation engine can observe for a study.
// The set is closed; Validate rejects any value not declared here.
type Trigger string

const (
	TriggerBIRADS3       Trigger = "birads-3"
	TriggerBIRADS4       Trigger = "birads-4"
	TriggerBIRADS4A      Trigger = "birads-4A"
	TriggerBIRADS4B      Trigger = "birads-4B"
	TriggerBIRADS4C      Trigger = "birads-4C"
	TriggerBIRADS5       Trigger = "birads-5"
	TriggerBIRADS6       Trigger = "birads-6"
	TriggerNewMass       Trigger = "new-mass"
	TriggerAsymmetry     Trigger = "asymmetry"
	TriggerDensityC      Trigger = "density-C"
	TriggerDensityD      Trigger = "density-D"
	TriggerHighRisk      Trigger = "high-risk"
	TriggerRiskElevated  Trigger = "risk-score-elevated"
	TriggerFamilyHistory Trigger = "family-history"
)

// AllTriggers lists every trigger in declaration order.
func AllTriggers() []Trigger {
	return []Trigger{
		TriggerBIRADS3, TriggerBIRADS4, TriggerBIRADS4A, TriggerBIRADS4B, TriggerBIRADS4C,
		TriggerBIRADS5, TriggerBIRADS6, TriggerNewMass, TriggerAsymmetry,
		TriggerDensityC, TriggerDensityD, TriggerHighRisk, TriggerRiskElevated, TriggerFamilyHistory,
	}
}

// IsValid reports whether the trigger is one of the declared values.
func (t Trigger) IsValid() bool {
	for _, known := range AllTriggers() {
		if t == known {
			return true
		}
	}
	return false
}

// BIRADSTrigger returns the trigger raised by a finding category, if any.
// Categories 1 and 2 raise nothing.
func BIRADSTrigger(c domain.BIRADSCategory) (Trigger, bool) {
	switch c {
	case domain.BIRADS3:
		return TriggerBIRADS3, true
	case domain.BIRADS4:
		return TriggerBIRADS4, true
	case domain.BIRADS4A:
		return TriggerBIRADS4A, true
	case domain.BIRADS4B:
		return TriggerBIRADS4B, true
	case domain.BIRADS4C:
		return TriggerBIRADS4C, true
	case domain.BIRADS5:
		return TriggerBIRADS5, true
	case domain.BIRADS6:
		return TriggerBIRADS6, true
	default:
		return "", false
	}
}

// DensityTrigger returns the trigger raised by a dense breast composition, if any.
func DensityTrigger(d domain.DensityCategory) (Trigger, bool) {
	switch d {
	case domain.DensityC:
		return TriggerDensityC, true
	case domain.DensityD:
		return TriggerDensityD, true
	default:
		return "", false
	}
}

// TriggerSet is the set of triggers observed for one study. Each trigger keeps
// the supporting-finding strings that raised it, in insertion order.
type TriggerSet struct {
	sources map[Trigger][]string
}

// NewTriggerSet creates an empty trigger set.
func NewTriggerSet() *TriggerSet {
	return &TriggerSet{sources: make(map[Trigger][]string)}
}

// Add records a trigger with an optional supporting source. Duplicate sources are ignored.
func (s *TriggerSet) Add(t Trigger, source string) {
	existing := s.sources[t]
	if existing == nil {
		existing = []string{}
	}
	if source != "" && !containsString(existing, source) {
		existing = append(existing, source)
	}
	s.sources[t] = existing
}

// Has reports whether the trigger is present.
func (s *TriggerSet) Has(t Trigger) bool {
	_, ok := s.sources[t]
	return ok
}

// Sources returns the supporting strings recorded for a trigger.
func (s *TriggerSet) Sources(t Trigger) []string {
	return s.sources[t]
}

// Len returns the number of distinct triggers.
func (s *TriggerSet) Len() int {
	return len(s.sources)
}

// Matches reports whether the rule's trigger condition holds: every AllOf
// trigger is present and, when AnyOf is non-empty, at least one AnyOf trigger.
func (r Rule) Matches(s *TriggerSet) bool {
	for _, t := range r.AllOf {
		if !s.Has(t) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return true
	}
	for _, t := range r.AnyOf {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// MatchedTriggers returns the rule's triggers present in the set, in rule order:
// AllOf, then AnyOf, then Annotations.
func (r Rule) MatchedTriggers(s *TriggerSet) []Trigger {
	var out []Trigger
	for _, group := range [][]Trigger{r.AllOf, r.AnyOf, r.Annotations} {
		for _, t := range group {
			if s.Has(t) {
				out = append(out, t)
			}
		}
	}
	return out
}

func containsString(values []string, v string) bool {
	for _, e := range values {
		if e == v {
			return true
		}
	}
	return false
}
