package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/rules"
)

func recTypes(recs []domain.Recommendation) []domain.RecommendationType {
	out := make([]domain.RecommendationType, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Type)
	}
	return out
}

func lowRisk() domain.RiskAssessment {
	return domain.RiskAssessment{Score: 10, Category: domain.RiskLow, Factors: []domain.RiskFactor{}}
}

func TestRecommendationEngine_HighlySuspicious(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())
	f := withCategory(testFinding("F1", domain.QuadrantUOQ, nil, domain.DepthUnknown, 10), domain.BIRADS5)

	recs := e.Recommend(RecommendationInput{
		Findings: []domain.ClassifiedFinding{f},
		Risk:     lowRisk(),
		Density:  domain.DensityB,
	})

	require.Len(t, recs, 2)
	assert.Equal(t, domain.RecommendBiopsy, recs[0].Type)
	assert.Equal(t, domain.UrgencyImmediate, recs[0].Urgency)
	assert.Equal(t, 1, recs[0].Priority)
	assert.Equal(t, []string{"F1: BI-RADS 5 mass"}, recs[0].SupportingFindings)
	assert.NotEmpty(t, recs[0].Evidence)
	assert.Equal(t, domain.RecommendSurgicalConsult, recs[1].Type)
	assert.Equal(t, 1, recs[1].Priority)
}

func TestRecommendationEngine_DeduplicatesFirstOccurrenceWins(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())
	findings := []domain.ClassifiedFinding{
		withCategory(testFinding("F1", domain.QuadrantUOQ, nil, domain.DepthUnknown, 10), domain.BIRADS4B),
		withCategory(testFinding("F2", domain.QuadrantLIQ, nil, domain.DepthUnknown, 10), domain.BIRADS5),
	}

	recs := e.Recommend(RecommendationInput{Findings: findings, Risk: lowRisk(), Density: domain.DensityA})

	assert.Equal(t, []domain.RecommendationType{domain.RecommendBiopsy, domain.RecommendSurgicalConsult}, recTypes(recs))
	assert.Equal(t, domain.UrgencyImmediate, recs[0].Urgency)
}

func TestRecommendationEngine_CategoryRouting(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())

	tests := []struct {
		category domain.BIRADSCategory
		expected []domain.RecommendationType
		urgency  domain.Urgency
	}{
		{domain.BIRADS4, []domain.RecommendationType{domain.RecommendBiopsy}, domain.UrgencyShortTerm},
		{domain.BIRADS4C, []domain.RecommendationType{domain.RecommendBiopsy}, domain.UrgencyShortTerm},
		{domain.BIRADS4A, []domain.RecommendationType{domain.RecommendShortFollowUp}, domain.UrgencyShortTerm},
		{domain.BIRADS3, []domain.RecommendationType{domain.RecommendShortFollowUp}, domain.UrgencyShortTerm},
		{domain.BIRADS6, []domain.RecommendationType{domain.RecommendBiopsy, domain.RecommendSurgicalConsult}, domain.UrgencyImmediate},
		{domain.BIRADS2, []domain.RecommendationType{}, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			f := withCategory(testFinding("F1", domain.QuadrantUOQ, nil, domain.DepthUnknown, 10), tt.category)
			recs := e.Recommend(RecommendationInput{Findings: []domain.ClassifiedFinding{f}, Risk: lowRisk(), Density: domain.DensityB})
			assert.Equal(t, tt.expected, recTypes(recs))
			if len(recs) > 0 {
				assert.Equal(t, tt.urgency, recs[0].Urgency)
			}
		})
	}
}

func TestRecommendationEngine_HighRiskDenseBreast(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())

	recs := e.Recommend(RecommendationInput{
		Risk:    domain.RiskAssessment{Score: 55, Category: domain.RiskHigh},
		Density: domain.DensityD,
	})

	require.Len(t, recs, 3)
	assert.Equal(t, domain.RecommendMRI, recs[0].Type)
	assert.Equal(t, 2, recs[0].Priority)
	assert.Equal(t, []string{"high risk (score 55)", "breast density category D"}, recs[0].SupportingFindings)
	assert.Equal(t, domain.RecommendRiskCounseling, recs[1].Type)
	assert.Equal(t, "Risk-reduction counseling (risk score 55)", recs[1].Description)
	assert.Equal(t, domain.RecommendDensityNotification, recs[2].Type)
	assert.Equal(t, "Breast density notification (category D)", recs[2].Description)
}

func TestRecommendationEngine_CounselingAnnotatedWithFamilyHistory(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())

	recs := e.Recommend(RecommendationInput{
		Risk:    domain.RiskAssessment{Score: 32, Category: domain.RiskMedium},
		Density: domain.DensityB,
		Patient: domain.PatientProfile{FamilyHistory: domain.FamilyHistoryFirstDegree},
	})

	require.Len(t, recs, 1)
	assert.Equal(t, domain.RecommendRiskCounseling, recs[0].Type)
	assert.Equal(t, domain.UrgencyRoutine, recs[0].Urgency)
	assert.Equal(t, "Risk-reduction counseling (risk score 32)", recs[0].Description)
	assert.Equal(t, []string{"risk score 32", "family history: first-degree"}, recs[0].SupportingFindings)

	// the threshold is exclusive
	recs = e.Recommend(RecommendationInput{Risk: domain.RiskAssessment{Score: 20, Category: domain.RiskLow}, Density: domain.DensityB})
	assert.Empty(t, recs)
	assert.NotNil(t, recs)
}

func TestRecommendationEngine_BaselineRiskAloneSkipsCounseling(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())
	baseline := []domain.RiskFactor{
		{Factor: RiskFactorAge, Contribution: 39},
		{Factor: RiskFactorDensity, Contribution: 4},
	}

	recs := e.Recommend(RecommendationInput{
		Risk:    domain.RiskAssessment{Score: 43, Category: domain.RiskMedium, Factors: baseline},
		Density: domain.DensityB,
	})
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	withHistory := append(append([]domain.RiskFactor{}, baseline...), domain.RiskFactor{Factor: RiskFactorReproductive, Contribution: 3})
	recs = e.Recommend(RecommendationInput{
		Risk:    domain.RiskAssessment{Score: 46, Category: domain.RiskMedium, Factors: withHistory},
		Density: domain.DensityB,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, domain.RecommendRiskCounseling, recs[0].Type)

	// without baseline factors the threshold applies alone
	rs := rules.Default()
	rs.Recommendations.BaselineFactors = nil
	recs = NewRecommendationEngine(rs).Recommend(RecommendationInput{
		Risk:    domain.RiskAssessment{Score: 43, Category: domain.RiskMedium, Factors: baseline},
		Density: domain.DensityB,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, domain.RecommendRiskCounseling, recs[0].Type)
}

func TestRecommendationEngine_DenseAsymmetry(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())
	f := testFinding("F1", domain.QuadrantUOQ, nil, domain.DepthUnknown, 10)
	f.Type = domain.LesionAsymmetry

	recs := e.Recommend(RecommendationInput{Findings: []domain.ClassifiedFinding{f}, Risk: lowRisk(), Density: domain.DensityC})
	assert.Equal(t, []domain.RecommendationType{domain.RecommendUltrasound, domain.RecommendDensityNotification}, recTypes(recs))
	assert.Equal(t, "Diagnostic breast ultrasound", recs[0].Description)

	recs = e.Recommend(RecommendationInput{Findings: []domain.ClassifiedFinding{f}, Risk: lowRisk(), Density: domain.DensityB})
	assert.Empty(t, recs)
}

func TestRecommendationEngine_NewMassRequiresBaseline(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())
	f := testFinding("F1", domain.QuadrantUOQ, nil, domain.DepthUnknown, 10)
	prior := "PRIOR-1"

	withBaseline := &domain.Comparison{
		Changes: []domain.ComparisonChange{{Type: domain.ChangeNewLesion, LesionID: "F1", Confidence: 0.8}},
		Summary: domain.ComparisonSummary{BaselineStudyID: &prior},
	}
	recs := e.Recommend(RecommendationInput{Findings: []domain.ClassifiedFinding{f}, Risk: lowRisk(), Comparison: withBaseline, Density: domain.DensityB})
	require.Len(t, recs, 1)
	assert.Equal(t, domain.RecommendUltrasound, recs[0].Type)
	assert.Equal(t, "Targeted diagnostic ultrasound of new mass", recs[0].Description)
	assert.Equal(t, []string{"F1: new mass since prior study"}, recs[0].SupportingFindings)

	noBaseline := &domain.Comparison{
		Changes: withBaseline.Changes,
		Summary: domain.ComparisonSummary{NoBaseline: true},
	}
	recs = e.Recommend(RecommendationInput{Findings: []domain.ClassifiedFinding{f}, Risk: lowRisk(), Comparison: noBaseline, Density: domain.DensityB})
	assert.Empty(t, recs)

	// new calcifications are not new masses
	f.Type = domain.LesionCalcification
	recs = e.Recommend(RecommendationInput{Findings: []domain.ClassifiedFinding{f}, Risk: lowRisk(), Comparison: withBaseline, Density: domain.DensityB})
	assert.Empty(t, recs)
}

func TestRecommendationEngine_SortedByPriority(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())
	findings := []domain.ClassifiedFinding{
		withCategory(testFinding("F1", domain.QuadrantUOQ, nil, domain.DepthUnknown, 10), domain.BIRADS3),
		withCategory(testFinding("F2", domain.QuadrantLOQ, nil, domain.DepthUnknown, 10), domain.BIRADS5),
	}

	recs := e.Recommend(RecommendationInput{
		Findings: findings,
		Risk:     domain.RiskAssessment{Score: 40, Category: domain.RiskMedium},
		Density:  domain.DensityC,
	})

	assert.Equal(t, []domain.RecommendationType{
		domain.RecommendBiopsy,
		domain.RecommendSurgicalConsult,
		domain.RecommendShortFollowUp,
		domain.RecommendRiskCounseling,
		domain.RecommendDensityNotification,
	}, recTypes(recs))
	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, recs[i-1].Priority, recs[i].Priority)
	}
}

func TestRecommendationEngine_Triggers(t *testing.T) {
	e := NewRecommendationEngine(rules.Default())
	f := withCategory(testFinding("F1", domain.QuadrantUOQ, nil, domain.DepthUnknown, 10), domain.BIRADS4A)

	set := e.Triggers(RecommendationInput{
		Findings: []domain.ClassifiedFinding{f},
		Risk:     domain.RiskAssessment{Score: 80, Category: domain.RiskVeryHigh},
		Density:  domain.DensityD,
		Patient:  domain.PatientProfile{FamilyHistory: domain.FamilyHistorySecondDegree},
	})

	for _, tr := range []rules.Trigger{
		rules.TriggerBIRADS4A,
		rules.TriggerDensityD,
		rules.TriggerHighRisk,
		rules.TriggerRiskElevated,
		rules.TriggerFamilyHistory,
	} {
		assert.True(t, set.Has(tr), "missing %s", tr)
	}
	assert.False(t, set.Has(rules.TriggerNewMass))
	assert.Equal(t, 5, set.Len())
}
