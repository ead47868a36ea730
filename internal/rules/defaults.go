package rules

import "github.com/mammography-findings-server/internal/domain"

// DefaultVersion identifies the built-in tables.
const DefaultVersion = "birads-5e.1"

// Default returns a fresh copy of the built-in tables. Callers may modify the
// returned value freely.
func Default() *RuleSet {
	return &RuleSet{
		Version:         DefaultVersion,
		Classifier:      defaultClassifier(),
		Severity:        defaultSeverity(),
		Risk:            defaultRisk(),
		Comparison:      defaultComparison(),
		Recommendations: defaultRecommendations(),
		Explanations:    defaultExplanations(),
	}
}

func defaultClassifier() ClassifierRules {
	return ClassifierRules{
		CalcificationThreshold: 0.8,
		AsymmetryThreshold:     0.7,

		OuterXRatio:    0.6,
		InnerXRatio:    0.4,
		UpperYRatio:    0.5,
		AnteriorYRatio: 0.3,
		PosteriorRatio: 0.7,

		HighDensityRatio: 1.2,
		LowDensityRatio:  0.8,
		FatContent:       0.7,

		LinearityThreshold: 0.7,
		ClusterThreshold:   0.6,

		// First match wins; anything unmatched is irregular.
		ShapeRules: []ShapeRule{
			{Shape: domain.ShapeRound, Circularity: Range{Min: 0.85}, AspectRatio: Range{Min: 1, Max: 1.25}},
			{Shape: domain.ShapeOval, Circularity: Range{Min: 0.7}, AspectRatio: Range{Min: 1.25, Max: 2.5}},
			{Shape: domain.ShapeLobulated, Circularity: Range{Min: 0.5, Max: 0.85}, AspectRatio: Range{Min: 1, Max: 2}},
		},
		// First match wins; anything unmatched is indistinct.
		MarginRules: []MarginRule{
			{Margin: domain.MarginCircumscribed, EdgeSharpness: Range{Min: 0.8}, TextureContrast: Range{Max: 0.3}},
			{Margin: domain.MarginSpiculated, EdgeSharpness: Range{}, TextureContrast: Range{Min: 0.75}},
			{Margin: domain.MarginMicrolobulated, EdgeSharpness: Range{Min: 0.6, Max: 0.8}, TextureContrast: Range{Min: 0.3, Max: 0.75}},
			{Margin: domain.MarginObscured, EdgeSharpness: Range{Min: 0.3, Max: 0.6}, TextureContrast: Range{Max: 0.3}},
		},

		TableMatchConfidence: 0.9,
		DefaultConfidence:    0.5,

		ScoreWeight:        0.8,
		FavorableBonus:     0.1,
		UnfavorablePenalty: 0.05,
	}
}

func defaultSeverity() SeverityRules {
	return SeverityRules{
		Thresholds: []ScoreThreshold{
			{Below: 0.1, Category: domain.BIRADS1},
			{Below: 0.3, Category: domain.BIRADS2},
			{Below: 0.5, Category: domain.BIRADS3},
			{Below: 0.7, Category: domain.BIRADS4A, SuspiciousCategory: domain.BIRADS4C},
			{Below: 0.9, Category: domain.BIRADS4B},
		},
		AboveAll:     domain.BIRADS5,
		BiopsyProven: domain.BIRADS6,
		FollowUp: map[domain.BIRADSCategory]string{
			domain.BIRADS0:  "Additional imaging evaluation needed",
			domain.BIRADS1:  "Routine annual screening",
			domain.BIRADS2:  "Routine annual screening",
			domain.BIRADS3:  "6-month follow-up",
			domain.BIRADS4:  "Tissue diagnosis",
			domain.BIRADS4A: "Tissue diagnosis",
			domain.BIRADS4B: "Tissue diagnosis",
			domain.BIRADS4C: "Tissue diagnosis",
			domain.BIRADS5:  "Immediate biopsy",
			domain.BIRADS6:  "Surgical excision when clinically appropriate",
		},
		Descriptions: map[domain.BIRADSCategory]string{
			domain.BIRADS0:  "Incomplete: need additional imaging evaluation",
			domain.BIRADS1:  "Negative",
			domain.BIRADS2:  "Benign",
			domain.BIRADS3:  "Probably benign",
			domain.BIRADS4:  "Suspicious",
			domain.BIRADS4A: "Low suspicion for malignancy",
			domain.BIRADS4B: "Moderate suspicion for malignancy",
			domain.BIRADS4C: "High suspicion for malignancy",
			domain.BIRADS5:  "Highly suggestive of malignancy",
			domain.BIRADS6:  "Known biopsy-proven malignancy",
		},
		DenseEscalation: map[domain.DensityCategory]EscalationRule{
			domain.DensityD: {
				Below:          domain.BIRADS3,
				Category:       domain.BIRADS0,
				LimitingFactor: "Extremely dense breast tissue may obscure findings",
			},
		},
	}
}

func defaultRisk() RiskRules {
	return RiskRules{
		AgeBase:       0.1,
		AgeDecadeStep: 0.5,
		AgeScale:      15,

		DensityWeights: map[domain.DensityCategory]float64{
			domain.DensityA: 0.1,
			domain.DensityB: 0.2,
			domain.DensityC: 0.3,
			domain.DensityD: 0.4,
		},
		DensityScale: 20,

		FindingWeights: map[domain.BIRADSCategory]float64{
			domain.BIRADS1:  0.0,
			domain.BIRADS2:  0.1,
			domain.BIRADS3:  0.1,
			domain.BIRADS4:  0.3,
			domain.BIRADS4A: 0.3,
			domain.BIRADS4B: 0.5,
			domain.BIRADS4C: 0.7,
			domain.BIRADS5:  0.9,
			domain.BIRADS6:  0.9,
		},
		CalcificationFallback: 0.2,
		FindingScale:          25,

		FamilyHistoryWeights: map[domain.FamilyHistory]float64{
			domain.FamilyHistoryNone:                0,
			domain.FamilyHistorySecondDegree:        0.2,
			domain.FamilyHistoryFirstDegree:         0.4,
			domain.FamilyHistoryMultipleFirstDegree: 0.6,
		},
		FamilyHistoryScale: 20,

		EarlyMenarche:     0.1,
		LateMenopause:     0.1,
		Nulliparous:       0.15,
		FirstChildAfter30: 0.1,
		HormonalScale:     10,

		VeryHighAt: 75,
		HighAt:     50,
		MediumAt:   25,
	}
}

func defaultComparison() ComparisonRules {
	return ComparisonRules{
		LocationWeight: 0.5,
		FeatureWeight:  0.3,
		SizeWeight:     0.2,

		LocationBase: 0.7,
		ClockBonus:   0.3,
		DepthBonus:   0.1,

		TypeWeight:    0.4,
		ShapeWeight:   0.2,
		MarginWeight:  0.2,
		DensityWeight: 0.2,

		MatchThreshold:      0.4,
		GrowthThreshold:     0.2,
		DensityThreshold:    0.15,
		UnmatchedConfidence: 0.8,
		DaysPerMonth:        30.44,
	}
}

// defaultRecommendations is the ordered rule table. Two rules extend the
// published ordering: BI-RADS 4 and 4B also lead to biopsy alongside 4C, and a
// new mass on comparison leads to a targeted ultrasound.
func defaultRecommendations() RecommendationRules {
	return RecommendationRules{
		RiskScoreThreshold: 20,
		// age and density alone describe a routine screening population
		BaselineFactors: []string{"age", "breast-density"},
		Rules: []Rule{
			{
				ID:    "highly-suspicious-biopsy",
				AnyOf: []Trigger{TriggerBIRADS5, TriggerBIRADS6},
				Template: Template{
					Type:        domain.RecommendBiopsy,
					Urgency:     domain.UrgencyImmediate,
					Description: "Image-guided core needle biopsy",
					Evidence:    []string{"ACR BI-RADS Atlas 5th ed.: category 5 warrants tissue diagnosis"},
				},
			},
			{
				ID:    "highly-suspicious-surgical-consult",
				AnyOf: []Trigger{TriggerBIRADS5, TriggerBIRADS6},
				Template: Template{
					Type:        domain.RecommendSurgicalConsult,
					Urgency:     domain.UrgencyImmediate,
					Description: "Breast surgery consultation",
					Evidence:    []string{"NCCN Breast Cancer Screening and Diagnosis guideline"},
				},
			},
			{
				ID:    "suspicious-biopsy",
				AnyOf: []Trigger{TriggerBIRADS4, TriggerBIRADS4B, TriggerBIRADS4C},
				Template: Template{
					Type:        domain.RecommendBiopsy,
					Urgency:     domain.UrgencyShortTerm,
					Description: "Image-guided core needle biopsy",
					Evidence:    []string{"ACR BI-RADS Atlas 5th ed.: category 4 warrants tissue diagnosis"},
				},
			},
			{
				ID:    "high-risk-dense-mri",
				AllOf: []Trigger{TriggerHighRisk, TriggerDensityD},
				Template: Template{
					Type:        domain.RecommendMRI,
					Urgency:     domain.UrgencyShortTerm,
					Description: "Supplemental breast MRI",
					Evidence:    []string{"ACR Appropriateness Criteria: supplemental screening for high-risk women with dense breasts"},
				},
			},
			{
				ID:    "dense-asymmetry-ultrasound",
				AllOf: []Trigger{TriggerAsymmetry},
				AnyOf: []Trigger{TriggerDensityC, TriggerDensityD},
				Template: Template{
					Type:        domain.RecommendUltrasound,
					Urgency:     domain.UrgencyShortTerm,
					Description: "Diagnostic breast ultrasound",
					Evidence:    []string{"ACR BI-RADS Atlas 5th ed.: asymmetry in dense tissue requires further evaluation"},
				},
			},
			{
				ID:    "new-mass-ultrasound",
				AllOf: []Trigger{TriggerNewMass},
				Template: Template{
					Type:        domain.RecommendUltrasound,
					Urgency:     domain.UrgencyShortTerm,
					Description: "Targeted diagnostic ultrasound of new mass",
					Evidence:    []string{"ACR BI-RADS Atlas 5th ed.: a new mass on comparison warrants diagnostic workup"},
				},
			},
			{
				ID:    "probably-benign-follow-up",
				AnyOf: []Trigger{TriggerBIRADS3, TriggerBIRADS4A},
				Template: Template{
					Type:        domain.RecommendShortFollowUp,
					Urgency:     domain.UrgencyShortTerm,
					Description: "6-month follow-up diagnostic mammogram",
					Evidence:    []string{"ACR BI-RADS Atlas 5th ed.: short-interval follow-up for probably benign findings"},
				},
			},
			{
				ID:          "risk-reduction-counseling",
				AllOf:       []Trigger{TriggerRiskElevated},
				Annotations: []Trigger{TriggerFamilyHistory},
				Template: Template{
					Type:        domain.RecommendRiskCounseling,
					Urgency:     domain.UrgencyRoutine,
					Description: "Risk-reduction counseling (risk score {risk_score})",
					Evidence:    []string{"USPSTF: risk-reducing medications for women at increased risk"},
				},
			},
			{
				ID:    "dense-breast-notification",
				AnyOf: []Trigger{TriggerDensityC, TriggerDensityD},
				Template: Template{
					Type:        domain.RecommendDensityNotification,
					Urgency:     domain.UrgencyRoutine,
					Description: "Breast density notification (category {density})",
					Evidence:    []string{"FDA Mammography Quality Standards Act breast density notification rule"},
				},
			},
		},
	}
}

func defaultExplanations() ExplanationRules {
	return ExplanationRules{
		DefaultLanguage: "en",
		Templates: map[string]map[domain.RecommendationType]string{
			"en": {
				domain.RecommendBiopsy:              "Your doctor recommends a biopsy, where a small tissue sample is taken for testing. This is because of {details}.",
				domain.RecommendSurgicalConsult:     "Your doctor recommends meeting with a breast surgeon to discuss {details}.",
				domain.RecommendMRI:                 "Your doctor recommends a breast MRI for a closer look because of {details}.",
				domain.RecommendUltrasound:          "Your doctor recommends a breast ultrasound to look more closely at {details}.",
				domain.RecommendShortFollowUp:       "Your doctor recommends a follow-up mammogram in 6 months to check {details}.",
				domain.RecommendRiskCounseling:      "Your doctor suggests talking about ways to lower your breast cancer risk, based on {details}.",
				domain.RecommendDensityNotification: "Your breast tissue is {details}. Ask your doctor whether extra screening is right for you.",
			},
			"es": {
				domain.RecommendBiopsy:              "Su médico recomienda una biopsia, en la que se toma una pequeña muestra de tejido para analizarla. Esto se debe a {details}.",
				domain.RecommendSurgicalConsult:     "Su médico recomienda una consulta con un cirujano de mama para hablar sobre {details}.",
				domain.RecommendMRI:                 "Su médico recomienda una resonancia magnética de mama debido a {details}.",
				domain.RecommendUltrasound:          "Su médico recomienda una ecografía de mama para examinar con más detalle {details}.",
				domain.RecommendShortFollowUp:       "Su médico recomienda una mamografía de control en 6 meses para revisar {details}.",
				domain.RecommendRiskCounseling:      "Su médico sugiere hablar sobre formas de reducir su riesgo de cáncer de mama, según {details}.",
				domain.RecommendDensityNotification: "Su tejido mamario es {details}. Pregunte a su médico si necesita pruebas adicionales.",
			},
		},
		DefaultDetails: map[string]map[domain.RecommendationType]string{
			"en": {
				domain.RecommendBiopsy:          "a finding that needs further testing",
				domain.RecommendSurgicalConsult: "the next steps for your care",
				domain.RecommendMRI:             "your risk profile and breast density",
				domain.RecommendUltrasound:      "an area seen on your mammogram",
				domain.RecommendShortFollowUp:   "an area that is most likely benign",
				domain.RecommendRiskCounseling:  "your personal and family history",
			},
			"es": {
				domain.RecommendBiopsy:          "un hallazgo que necesita más pruebas",
				domain.RecommendSurgicalConsult: "los próximos pasos de su atención",
				domain.RecommendMRI:             "su perfil de riesgo y la densidad mamaria",
				domain.RecommendUltrasound:      "una zona vista en su mamografía",
				domain.RecommendShortFollowUp:   "una zona que probablemente es benigna",
				domain.RecommendRiskCounseling:  "sus antecedentes personales y familiares",
			},
		},
		DensityClauses: map[string]map[domain.DensityCategory]string{
			"en": {
				domain.DensityC: "heterogeneously dense (category C), which may hide small masses",
				domain.DensityD: "extremely dense (category D), which lowers the sensitivity of mammography",
			},
			"es": {
				domain.DensityC: "heterogéneamente denso (categoría C), lo que puede ocultar masas pequeñas",
				domain.DensityD: "extremadamente denso (categoría D), lo que reduce la sensibilidad de la mamografía",
			},
		},
	}
}
