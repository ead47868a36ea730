package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

func factorByName(ra domain.RiskAssessment, name string) (domain.RiskFactor, bool) {
	for _, f := range ra.Factors {
		if f.Factor == name {
			return f, true
		}
	}
	return domain.RiskFactor{}, false
}

func TestRiskCalculator_AgeAndDensity(t *testing.T) {
	r := NewRiskCalculator(rules.Default())

	ra := r.Calculate(domain.PatientProfile{DateOfBirth: dateOfBirth(1974)}, domain.DensityB, nil, studyDate)

	assert.Equal(t, 43, ra.Score)
	assert.Equal(t, domain.RiskMedium, ra.Category)
	require.Len(t, ra.Factors, 2)
	assert.Equal(t, RiskFactorAge, ra.Factors[0].Factor)
	assert.InDelta(t, 39.0, ra.Factors[0].Contribution, 1e-9)
	assert.Equal(t, "age 50 at study date", ra.Factors[0].Details)
	assert.Equal(t, RiskFactorDensity, ra.Factors[1].Factor)
	assert.InDelta(t, 4.0, ra.Factors[1].Contribution, 1e-9)
}

func TestRiskCalculator_MissingAttributesContributeNothing(t *testing.T) {
	r := NewRiskCalculator(rules.Default())

	ra := r.Calculate(domain.PatientProfile{}, "", nil, studyDate)
	assert.Equal(t, 0, ra.Score)
	assert.Equal(t, domain.RiskLow, ra.Category)
	assert.NotNil(t, ra.Factors)
	assert.Empty(t, ra.Factors)

	// a birth date after the study has no defined age
	ra = r.Calculate(domain.PatientProfile{DateOfBirth: dateOfBirth(2030)}, "", nil, studyDate)
	_, ok := factorByName(ra, RiskFactorAge)
	assert.False(t, ok)
}

func TestRiskCalculator_Findings(t *testing.T) {
	r := NewRiskCalculator(rules.Default())

	calc := testFinding("c", domain.QuadrantUOQ, nil, domain.DepthUnknown, 5)
	calc.Type = domain.LesionCalcification

	tests := []struct {
		name     string
		findings []domain.ClassifiedFinding
		expected float64
	}{
		{"negative finding contributes nothing", []domain.ClassifiedFinding{withCategory(calc, domain.BIRADS1)}, 0},
		{"category weight", []domain.ClassifiedFinding{withCategory(calc, domain.BIRADS4B)}, 12.5},
		{"weights sum", []domain.ClassifiedFinding{
			withCategory(calc, domain.BIRADS2),
			withCategory(testFinding("m", domain.QuadrantUOQ, nil, domain.DepthUnknown, 5), domain.BIRADS5),
		}, 25},
		{"unscored calcification uses fallback", []domain.ClassifiedFinding{calc}, 5},
		{"unscored mass contributes nothing", []domain.ClassifiedFinding{testFinding("m", domain.QuadrantUOQ, nil, domain.DepthUnknown, 5)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ra := r.Calculate(domain.PatientProfile{}, "", tt.findings, studyDate)
			f, ok := factorByName(ra, RiskFactorFindings)
			if tt.expected == 0 {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.InDelta(t, tt.expected, f.Contribution, 1e-9)
		})
	}
}

func TestRiskCalculator_FamilyAndHormonal(t *testing.T) {
	r := NewRiskCalculator(rules.Default())

	patient := domain.PatientProfile{
		FamilyHistory: domain.FamilyHistoryMultipleFirstDegree,
		EarlyMenarche: true,
		Nulliparous:   true,
	}
	ra := r.Calculate(patient, "", nil, studyDate)

	family, ok := factorByName(ra, RiskFactorFamily)
	require.True(t, ok)
	assert.InDelta(t, 12.0, family.Contribution, 1e-9)

	hormonal, ok := factorByName(ra, RiskFactorReproductive)
	require.True(t, ok)
	assert.InDelta(t, 2.5, hormonal.Contribution, 1e-9)
	assert.Equal(t, "early menarche, nulliparous", hormonal.Details)

	// 12 + 2.5 rounds half away from zero
	assert.Equal(t, 15, ra.Score)
	assert.Equal(t, domain.RiskLow, ra.Category)

	ra = r.Calculate(domain.PatientProfile{FamilyHistory: domain.FamilyHistoryNone}, "", nil, studyDate)
	_, ok = factorByName(ra, RiskFactorFamily)
	assert.False(t, ok)
}

func TestRiskCalculator_ScoreClampedAndCategorized(t *testing.T) {
	r := NewRiskCalculator(rules.Default())

	patient := domain.PatientProfile{
		DateOfBirth:       dateOfBirth(1944),
		FamilyHistory:     domain.FamilyHistoryMultipleFirstDegree,
		EarlyMenarche:     true,
		LateMenopause:     true,
		Nulliparous:       true,
		FirstChildAfter30: true,
	}
	findings := []domain.ClassifiedFinding{
		withCategory(testFinding("a", domain.QuadrantUOQ, nil, domain.DepthUnknown, 5), domain.BIRADS5),
		withCategory(testFinding("b", domain.QuadrantLOQ, nil, domain.DepthUnknown, 5), domain.BIRADS5),
	}

	ra := r.Calculate(patient, domain.DensityD, findings, studyDate)
	assert.Equal(t, 100, ra.Score)
	assert.Equal(t, domain.RiskVeryHigh, ra.Category)
}

func TestRiskCalculator_CategoryBoundaries(t *testing.T) {
	r := NewRiskCalculator(rules.Default())

	tests := []struct {
		score    int
		expected domain.RiskCategory
	}{
		{0, domain.RiskLow},
		{24, domain.RiskLow},
		{25, domain.RiskMedium},
		{49, domain.RiskMedium},
		{50, domain.RiskHigh},
		{74, domain.RiskHigh},
		{75, domain.RiskVeryHigh},
		{100, domain.RiskVeryHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, r.category(tt.score), "score %d", tt.score)
	}
}

func TestRiskCalculator_MonotonicInEachFactor(t *testing.T) {
	r := NewRiskCalculator(rules.Default())

	type input struct {
		patient  domain.PatientProfile
		density  domain.DensityCategory
		category domain.BIRADSCategory
	}
	score := func(in input) int {
		var findings []domain.ClassifiedFinding
		if in.category != "" {
			findings = append(findings, withCategory(testFinding("F1", domain.QuadrantUOQ, nil, domain.DepthUnknown, 10), in.category))
		}
		return r.Calculate(in.patient, in.density, findings, studyDate).Score
	}

	bases := map[string]input{
		"sparse": {
			patient:  domain.PatientProfile{DateOfBirth: dateOfBirth(1974)},
			density:  domain.DensityB,
			category: domain.BIRADS2,
		},
		"saturated": {
			patient: domain.PatientProfile{
				DateOfBirth:       dateOfBirth(1944),
				FamilyHistory:     domain.FamilyHistoryMultipleFirstDegree,
				EarlyMenarche:     true,
				LateMenopause:     true,
				Nulliparous:       true,
				FirstChildAfter30: true,
			},
			density:  domain.DensityD,
			category: domain.BIRADS5,
		},
	}

	steps := map[string]func(base input) []input{
		"age": func(base input) []input {
			var out []input
			for _, year := range []int{2004, 1994, 1984, 1974, 1964, 1954, 1944, 1934} {
				in := base
				in.patient.DateOfBirth = dateOfBirth(year)
				out = append(out, in)
			}
			return out
		},
		"density": func(base input) []input {
			var out []input
			for _, d := range []domain.DensityCategory{domain.DensityA, domain.DensityB, domain.DensityC, domain.DensityD} {
				in := base
				in.density = d
				out = append(out, in)
			}
			return out
		},
		"birads": func(base input) []input {
			var out []input
			for _, c := range []domain.BIRADSCategory{
				domain.BIRADS1, domain.BIRADS2, domain.BIRADS3, domain.BIRADS4A,
				domain.BIRADS4B, domain.BIRADS4C, domain.BIRADS5, domain.BIRADS6,
			} {
				in := base
				in.category = c
				out = append(out, in)
			}
			return out
		},
		"family history": func(base input) []input {
			var out []input
			for _, fh := range []domain.FamilyHistory{
				"", domain.FamilyHistoryNone, domain.FamilyHistorySecondDegree,
				domain.FamilyHistoryFirstDegree, domain.FamilyHistoryMultipleFirstDegree,
			} {
				in := base
				in.patient.FamilyHistory = fh
				out = append(out, in)
			}
			return out
		},
	}

	for baseName, base := range bases {
		for factor, step := range steps {
			t.Run(baseName+"/"+factor, func(t *testing.T) {
				prev := -1
				for i, in := range step(base) {
					s := score(in)
					assert.GreaterOrEqual(t, s, 0)
					assert.LessOrEqual(t, s, 100)
					assert.GreaterOrEqual(t, s, prev, "step %d", i)
					prev = s
				}
			})
		}
	}
}
