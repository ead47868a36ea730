// Package feedback stores radiologist reviews of engine BI-RADS assessments.
// Reviews record whether the reader agreed with the engine so that rule
// tables can be audited against clinical practice.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mammography-findings-server/internal/domain"
)

// ErrInvalidReview is returned by Save for reviews missing required fields.
var ErrInvalidReview = errors.New("invalid review")

// Review is a radiologist's verdict on one engine assessment. An empty
// FindingID refers to the overall study assessment.
type Review struct {
	ID               int64                 `json:"id,omitempty"`
	StudyID          string                `json:"study_id"`
	FindingID        string                `json:"finding_id,omitempty"`
	EngineCategory   domain.BIRADSCategory `json:"engine_category"`
	ReviewerCategory domain.BIRADSCategory `json:"reviewer_category"`
	Agreed           bool                  `json:"agreed"`
	Reviewer         string                `json:"reviewer,omitempty"`
	RulesVersion     string                `json:"rules_version,omitempty"`
	Notes            string                `json:"notes,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// Validate checks required fields and derives Agreed from the two categories.
func (r *Review) Validate() error {
	if r.StudyID == "" {
		return fmt.Errorf("%w: study_id is required", ErrInvalidReview)
	}
	if !r.EngineCategory.IsValid() {
		return fmt.Errorf("%w: engine_category %q", ErrInvalidReview, r.EngineCategory)
	}
	if !r.ReviewerCategory.IsValid() {
		return fmt.Errorf("%w: reviewer_category %q", ErrInvalidReview, r.ReviewerCategory)
	}
	r.Agreed = r.EngineCategory == r.ReviewerCategory
	return nil
}

// Agreement summarizes how often reviewers agreed with the engine.
type Agreement struct {
	Total  int64   `json:"total"`
	Agreed int64   `json:"agreed"`
	Rate   float64 `json:"rate"`
}

func newAgreement(total, agreed int64) Agreement {
	a := Agreement{Total: total, Agreed: agreed}
	if total > 0 {
		a.Rate = float64(agreed) / float64(total)
	}
	return a
}

// Store defines the interface for review storage operations.
type Store interface {
	// Save stores a review. A second review of the same study and finding
	// replaces the first.
	Save(ctx context.Context, review *Review) error

	// Get returns the review for a study finding, or nil when none exists.
	Get(ctx context.Context, studyID, findingID string) (*Review, error)

	// List returns reviews newest first.
	List(ctx context.Context, limit, offset int) ([]*Review, error)

	Count(ctx context.Context) (int64, error)

	Delete(ctx context.Context, id int64) error

	// AgreementRate reports reviewer agreement across all stored reviews.
	AgreementRate(ctx context.Context) (Agreement, error)

	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports reviews, skipping ones already present.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	Close() error
}

// ReviewExport represents the JSON export format.
type ReviewExport struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Reviews    []*Review `json:"reviews"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reviews: %w", err)
	}
	if all == nil {
		all = []*Review{}
	}

	export := &ReviewExport{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Reviews:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export ReviewExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, r := range export.Reviews {
		existing, err := s.Get(ctx, r.StudyID, r.FindingID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}

		if err := s.Save(ctx, r); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
