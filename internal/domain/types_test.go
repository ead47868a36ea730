package domain

import (
	"testing"
	"time"
)

func TestBIRADSCategoryRank(t *testing.T) {
	ordered := []BIRADSCategory{BIRADS0, BIRADS1, BIRADS2, BIRADS3, BIRADS4, BIRADS4A, BIRADS4B, BIRADS4C, BIRADS5, BIRADS6}
	for i := 1; i < len(ordered); i++ {
		if !ordered[i].MoreSevereThan(ordered[i-1]) {
			t.Errorf("Expected %s to rank above %s", ordered[i], ordered[i-1])
		}
	}

	if BIRADSCategory("7").Rank() != -1 {
		t.Errorf("Expected unknown category to rank -1")
	}
}

func TestBIRADSCategoryNumeric(t *testing.T) {
	tests := []struct {
		value    BIRADSCategory
		expected int
	}{
		{BIRADS0, 0},
		{BIRADS3, 3},
		{BIRADS4A, 4},
		{BIRADS4C, 4},
		{BIRADS6, 6},
		{BIRADSCategory("X"), -1},
	}

	for _, tt := range tests {
		t.Run(string(tt.value), func(t *testing.T) {
			if got := tt.value.Numeric(); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestFindingCategories(t *testing.T) {
	cats := FindingCategories()
	if len(cats) != 9 {
		t.Fatalf("Expected 9 finding categories, got %d", len(cats))
	}
	for _, c := range cats {
		if !c.IsValidForFinding() {
			t.Errorf("Expected %s to be valid for a finding", c)
		}
	}
	if BIRADS0.IsValidForFinding() {
		t.Errorf("Category 0 must not be valid for a finding")
	}
}

func TestRequiresTissueDiagnosis(t *testing.T) {
	tests := []struct {
		value    BIRADSCategory
		expected bool
	}{
		{BIRADS1, false},
		{BIRADS3, false},
		{BIRADS4A, true},
		{BIRADS5, true},
		{BIRADS6, false},
		{BIRADSCategory("?"), true},
	}

	for _, tt := range tests {
		if got := tt.value.RequiresTissueDiagnosis(); got != tt.expected {
			t.Errorf("%s: expected %v, got %v", tt.value, tt.expected, got)
		}
	}
}

func TestParseLaterality(t *testing.T) {
	tests := []struct {
		input    string
		expected Laterality
		wantErr  bool
	}{
		{"L", LateralityLeft, false},
		{"right", LateralityRight, false},
		{" r ", LateralityRight, false},
		{"B", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLaterality(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: unexpected error state %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestParseDensityCategory(t *testing.T) {
	d, err := ParseDensityCategory("c")
	if err != nil || d != DensityC {
		t.Errorf("Expected C, got %s (%v)", d, err)
	}
	if _, err := ParseDensityCategory("E"); err != ErrInvalidDensity {
		t.Errorf("Expected ErrInvalidDensity, got %v", err)
	}
	if !DensityD.IsDense() || DensityB.IsDense() {
		t.Errorf("Unexpected IsDense result")
	}
}

func TestUrgencyPriority(t *testing.T) {
	if UrgencyImmediate.Priority() != 1 || UrgencyShortTerm.Priority() != 2 || UrgencyRoutine.Priority() != 3 {
		t.Errorf("Unexpected urgency priorities")
	}
}

func TestLesionDensityOrdinal(t *testing.T) {
	if !(LesionDensityFatContaining.Ordinal() < LesionDensityLow.Ordinal() &&
		LesionDensityLow.Ordinal() < LesionDensityEqual.Ordinal() &&
		LesionDensityEqual.Ordinal() < LesionDensityHigh.Ordinal()) {
		t.Errorf("Lesion density ordinals must be strictly increasing")
	}
}

func TestPatientProfileAgeAt(t *testing.T) {
	dob := time.Date(1970, time.June, 15, 0, 0, 0, 0, time.UTC)
	p := PatientProfile{DateOfBirth: &dob}

	tests := []struct {
		name     string
		ref      time.Time
		expected int
		ok       bool
	}{
		{"day before birthday", time.Date(2020, time.June, 14, 0, 0, 0, 0, time.UTC), 49, true},
		{"on birthday", time.Date(2020, time.June, 15, 0, 0, 0, 0, time.UTC), 50, true},
		{"reference before birth", time.Date(1960, time.January, 1, 0, 0, 0, 0, time.UTC), 0, false},
		{"zero reference", time.Time{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			age, ok := p.AgeAt(tt.ref)
			if age != tt.expected || ok != tt.ok {
				t.Errorf("Expected (%d, %v), got (%d, %v)", tt.expected, tt.ok, age, ok)
			}
		})
	}

	if _, ok := (PatientProfile{}).AgeAt(time.Now()); ok {
		t.Errorf("Expected unknown age without date of birth")
	}
}

func TestSizeMaxDimension(t *testing.T) {
	if got := (Size{Width: 4, Height: 9, Depth: 0}).MaxDimension(); got != 9 {
		t.Errorf("Expected 9, got %v", got)
	}
}
