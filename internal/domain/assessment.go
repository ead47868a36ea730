package domain

import "time"

// OverallAssessment is the density-adjusted BI-RADS assessment for a whole study.
type OverallAssessment struct {
	Category       BIRADSCategory `json:"category"`
	Description    string         `json:"description"`
	LimitingFactor string         `json:"limiting_factor,omitempty"`
}

// RiskFactor is one weighted contribution to a risk score.
type RiskFactor struct {
	Factor       string  `json:"factor"`
	Contribution float64 `json:"contribution"`
	Details      string  `json:"details"`
}

// RiskAssessment is the patient-level risk for one study evaluation.
type RiskAssessment struct {
	Score    int          `json:"score"`
	Category RiskCategory `json:"category"`
	Factors  []RiskFactor `json:"factors"`
}

// PatientProfile carries the patient-record attributes the engine consumes.
// Every field is optional.
type PatientProfile struct {
	DateOfBirth       *time.Time    `json:"date_of_birth,omitempty"`
	FamilyHistory     FamilyHistory `json:"family_history,omitempty"`
	EarlyMenarche     bool          `json:"early_menarche,omitempty"`
	LateMenopause     bool          `json:"late_menopause,omitempty"`
	Nulliparous       bool          `json:"nulliparous,omitempty"`
	FirstChildAfter30 bool          `json:"first_child_after_30,omitempty"`
	Language          string        `json:"language,omitempty"`
}

// AgeAt returns the patient's age in whole years on the given date, and false when
// the date of birth is unknown or after the reference date.
func (p PatientProfile) AgeAt(ref time.Time) (int, bool) {
	if p.DateOfBirth == nil || ref.IsZero() || p.DateOfBirth.After(ref) {
		return 0, false
	}
	dob := p.DateOfBirth.UTC()
	ref = ref.UTC()
	age := ref.Year() - dob.Year()
	if ref.Month() < dob.Month() || (ref.Month() == dob.Month() && ref.Day() < dob.Day()) {
		age--
	}
	return age, true
}
