package service

import (
	"strings"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

// ExplanationGenerator renders patient-facing text for recommendations.
// The text is advisory only. Supporting findings carry internal identifiers
// and stay on the recommendation; details come from the localized phrases.
type ExplanationGenerator struct {
	rules rules.ExplanationRules
}

// NewExplanationGenerator creates a generator over the given templates
func NewExplanationGenerator(rs *rules.RuleSet) *ExplanationGenerator {
	return &ExplanationGenerator{rules: rs.Explanations}
}

// Explain returns one explanation per recommendation that has a template, in
// recommendation order. Unknown languages fall back to the default language.
func (g *ExplanationGenerator) Explain(recs []domain.Recommendation, density domain.DensityCategory, language string) []domain.PatientExplanation {
	lang := g.ResolveLanguage(language)
	out := make([]domain.PatientExplanation, 0, len(recs))

	for _, rec := range recs {
		tmpl, tmplLang := g.template(lang, rec.Type)
		if tmpl == "" {
			continue
		}
		text := strings.ReplaceAll(tmpl, "{details}", g.details(tmplLang, rec, density))
		out = append(out, domain.PatientExplanation{
			RecommendationType: rec.Type,
			Language:           tmplLang,
			Text:               text,
		})
	}
	return out
}

// ResolveLanguage reduces a language tag such as "es-MX" to its primary subtag
// and falls back to the default language when no templates exist for it.
func (g *ExplanationGenerator) ResolveLanguage(tag string) string {
	primary := strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(primary, "-_"); i >= 0 {
		primary = primary[:i]
	}
	if _, ok := g.rules.Templates[primary]; ok {
		return primary
	}
	return g.rules.DefaultLanguage
}

func (g *ExplanationGenerator) template(lang string, t domain.RecommendationType) (string, string) {
	if tmpl := g.rules.Templates[lang][t]; tmpl != "" {
		return tmpl, lang
	}
	def := g.rules.DefaultLanguage
	return g.rules.Templates[def][t], def
}

func (g *ExplanationGenerator) details(lang string, rec domain.Recommendation, density domain.DensityCategory) string {
	if rec.Type == domain.RecommendDensityNotification {
		if clause := g.lookup(g.rules.DensityClauses, lang, density); clause != "" {
			return clause
		}
	}
	if d := g.rules.DefaultDetails[lang][rec.Type]; d != "" {
		return d
	}
	return g.rules.DefaultDetails[g.rules.DefaultLanguage][rec.Type]
}

func (g *ExplanationGenerator) lookup(m map[string]map[domain.DensityCategory]string, lang string, d domain.DensityCategory) string {
	if v := m[lang][d]; v != "" {
		return v
	}
	return m[g.rules.DefaultLanguage][d]
}
