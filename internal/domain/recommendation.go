package domain

// Recommendation is one prioritized care recommendation with its evidence.
type Recommendation struct {
	Type               RecommendationType `json:"type"`
	Urgency            Urgency            `json:"urgency"`
	Description        string             `json:"description"`
	Evidence           []string           `json:"evidence"`
	Priority           int                `json:"priority"`
	SupportingFindings []string           `json:"supporting_findings,omitempty"`
}

// PatientExplanation is advisory patient-facing text for one recommendation.
type PatientExplanation struct {
	RecommendationType RecommendationType `json:"recommendation_type"`
	Language           string             `json:"language"`
	Text               string             `json:"text"`
}
