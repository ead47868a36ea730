package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/internal/domain"
	"github.com/mammography-findings-server/internal/feedback"
	"github.com/mammography-findings-server/internal/worker"
)

// Tool names
const (
	ToolEvaluateStudy          = "evaluate_study"
	ToolEvaluateBatch          = "evaluate_batch"
	ToolClassifyDetection      = "classify_detection"
	ToolParseDetections        = "parse_detections"
	ToolExplainRecommendations = "explain_recommendations"
	ToolSubmitReview           = "submit_review"
	ToolListReviews            = "list_reviews"
	ToolExportReviews          = "export_reviews"
)

const maxBatchStudies = 50

// StudyParams describes the study a detection set was taken from.
type StudyParams struct {
	StudyID        string  `json:"study_id" jsonschema:"study identifier"`
	PatientID      string  `json:"patient_id,omitempty" jsonschema:"patient identifier"`
	Laterality     string  `json:"laterality" jsonschema:"L or R"`
	ViewPosition   string  `json:"view_position" jsonschema:"CC or MLO"`
	ImageWidth     int     `json:"image_width" jsonschema:"image width in pixels"`
	ImageHeight    int     `json:"image_height" jsonschema:"image height in pixels"`
	PixelSpacingMM float64 `json:"pixel_spacing_mm,omitempty" jsonschema:"pixel spacing in millimetres, default 0.1"`
	Density        string  `json:"density,omitempty" jsonschema:"breast composition A, B, C or D"`
	StudyDate      string  `json:"study_date,omitempty" jsonschema:"study date as YYYY-MM-DD or RFC 3339"`
}

// FeatureParams are the detector features of one region.
type FeatureParams struct {
	Calcification           float64 `json:"calcification,omitempty"`
	ArchitecturalDistortion bool    `json:"architectural_distortion,omitempty"`
	Asymmetry               float64 `json:"asymmetry,omitempty"`
	LymphNode               bool    `json:"lymph_node,omitempty"`
	Circularity             float64 `json:"circularity,omitempty"`
	AspectRatio             float64 `json:"aspect_ratio,omitempty"`
	EdgeSharpness           float64 `json:"edge_sharpness,omitempty"`
	TextureContrast         float64 `json:"texture_contrast,omitempty"`
	DensityRatio            float64 `json:"density_ratio,omitempty"`
	FatContent              float64 `json:"fat_content,omitempty"`
	ClusterDensity          float64 `json:"cluster_density,omitempty"`
	Linearity               float64 `json:"linearity,omitempty"`
	Segmental               bool    `json:"segmental,omitempty"`
	SkinThickening          bool    `json:"skin_thickening,omitempty"`
}

// DetectionParams is one detected region.
type DetectionParams struct {
	ID                    string        `json:"id,omitempty"`
	XMin                  float64       `json:"x_min" jsonschema:"left edge in pixels"`
	YMin                  float64       `json:"y_min" jsonschema:"top edge in pixels"`
	XMax                  float64       `json:"x_max" jsonschema:"right edge in pixels"`
	YMax                  float64       `json:"y_max" jsonschema:"bottom edge in pixels"`
	Score                 float64       `json:"score" jsonschema:"malignancy score between 0 and 1"`
	Features              FeatureParams `json:"features,omitempty"`
	BiopsyProvenMalignant bool          `json:"biopsy_proven_malignant,omitempty"`
}

// PatientParams are the optional patient risk inputs.
type PatientParams struct {
	DateOfBirth       string `json:"date_of_birth,omitempty" jsonschema:"YYYY-MM-DD"`
	FamilyHistory     string `json:"family_history,omitempty" jsonschema:"none, second-degree, first-degree or multiple-first-degree"`
	EarlyMenarche     bool   `json:"early_menarche,omitempty"`
	LateMenopause     bool   `json:"late_menopause,omitempty"`
	Nulliparous       bool   `json:"nulliparous,omitempty"`
	FirstChildAfter30 bool   `json:"first_child_after_30,omitempty"`
	Language          string `json:"language,omitempty" jsonschema:"language tag for patient explanations"`
}

// EvaluateStudyParams defines parameters for the evaluate_study tool
type EvaluateStudyParams struct {
	Study      StudyParams       `json:"study"`
	Detections []DetectionParams `json:"detections,omitempty"`
	Patient    PatientParams     `json:"patient,omitempty"`
}

// EvaluateBatchParams defines parameters for the evaluate_batch tool
type EvaluateBatchParams struct {
	Studies []EvaluateStudyParams `json:"studies"`
}

// ClassifyDetectionParams defines parameters for the classify_detection tool
type ClassifyDetectionParams struct {
	Study     StudyParams     `json:"study"`
	Detection DetectionParams `json:"detection"`
}

// ParseDetectionsParams defines parameters for the parse_detections tool
type ParseDetectionsParams struct {
	DetectorOutput string `json:"detector_output" jsonschema:"JSON document printed by the detector for one image"`
}

// RecommendationParams identifies a recommendation to explain.
type RecommendationParams struct {
	Type               string   `json:"type" jsonschema:"recommendation type such as biopsy or mri"`
	SupportingFindings []string `json:"supporting_findings,omitempty"`
}

// ExplainRecommendationsParams defines parameters for the explain_recommendations tool
type ExplainRecommendationsParams struct {
	Recommendations []RecommendationParams `json:"recommendations"`
	Density         string                 `json:"density,omitempty"`
	Language        string                 `json:"language,omitempty"`
}

// SubmitReviewParams defines parameters for the submit_review tool
type SubmitReviewParams struct {
	StudyID          string `json:"study_id"`
	FindingID        string `json:"finding_id,omitempty" jsonschema:"finding reviewed, empty for the overall assessment"`
	EngineCategory   string `json:"engine_category" jsonschema:"BI-RADS category the engine assigned"`
	ReviewerCategory string `json:"reviewer_category" jsonschema:"BI-RADS category the radiologist assigned"`
	Reviewer         string `json:"reviewer,omitempty"`
	RulesVersion     string `json:"rules_version,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// ListReviewsParams defines parameters for the list_reviews tool
type ListReviewsParams struct {
	Limit  int `json:"limit,omitempty" jsonschema:"page size, default 50"`
	Offset int `json:"offset,omitempty"`
}

// ExportReviewsParams defines parameters for the export_reviews tool
type ExportReviewsParams struct{}

// ClassifyDetectionResult is the classified and scored finding.
type ClassifyDetectionResult struct {
	Finding  domain.ClassifiedFinding `json:"finding"`
	FollowUp string                   `json:"follow_up"`
}

// ParseDetectionsResult lists the detections kept after the confidence floor.
type ParseDetectionsResult struct {
	Detections []domain.LesionDetection `json:"detections"`
	Received   int                      `json:"received"`
	Kept       int                      `json:"kept"`
	ImagePath  string                   `json:"image_path,omitempty"`
}

// ReviewListResult is a page of reviews with the overall agreement.
type ReviewListResult struct {
	Reviews   []*feedback.Review `json:"reviews"`
	Total     int64              `json:"total"`
	Agreement feedback.Agreement `json:"agreement"`
}

// ExportReviewsResult reports where reviews were written.
type ExportReviewsResult struct {
	FilePath string `json:"file_path"`
	Count    int64  `json:"count"`
}

func (p StudyParams) toMetadata() (domain.StudyMetadata, error) {
	meta := domain.StudyMetadata{
		StudyID:        p.StudyID,
		PatientID:      p.PatientID,
		Laterality:     domain.Laterality(p.Laterality),
		ViewPosition:   domain.ViewPosition(p.ViewPosition),
		ImageWidth:     p.ImageWidth,
		ImageHeight:    p.ImageHeight,
		PixelSpacingMM: p.PixelSpacingMM,
		Density:        domain.DensityCategory(p.Density),
	}
	if p.StudyDate != "" {
		date, err := parseDate(p.StudyDate)
		if err != nil {
			return meta, domain.NewInvalidInput("study.study_date", err.Error())
		}
		meta.StudyDate = date
	}
	return meta, nil
}

func (p DetectionParams) toDetection() domain.LesionDetection {
	f := p.Features
	return domain.LesionDetection{
		ID:          p.ID,
		BoundingBox: &domain.BoundingBox{XMin: p.XMin, YMin: p.YMin, XMax: p.XMax, YMax: p.YMax},
		Score:       p.Score,
		Features: domain.FeatureScores{
			Calcification:           f.Calcification,
			ArchitecturalDistortion: f.ArchitecturalDistortion,
			Asymmetry:               f.Asymmetry,
			LymphNode:               f.LymphNode,
			Circularity:             f.Circularity,
			AspectRatio:             f.AspectRatio,
			EdgeSharpness:           f.EdgeSharpness,
			TextureContrast:         f.TextureContrast,
			DensityRatio:            f.DensityRatio,
			FatContent:              f.FatContent,
			ClusterDensity:          f.ClusterDensity,
			Linearity:               f.Linearity,
			Segmental:               f.Segmental,
			SkinThickening:          f.SkinThickening,
		},
		BiopsyProvenMalignant: p.BiopsyProvenMalignant,
	}
}

func (p PatientParams) toProfile() (domain.PatientProfile, error) {
	profile := domain.PatientProfile{
		FamilyHistory:     domain.FamilyHistory(p.FamilyHistory),
		EarlyMenarche:     p.EarlyMenarche,
		LateMenopause:     p.LateMenopause,
		Nulliparous:       p.Nulliparous,
		FirstChildAfter30: p.FirstChildAfter30,
		Language:          p.Language,
	}
	if p.DateOfBirth != "" {
		dob, err := parseDate(p.DateOfBirth)
		if err != nil {
			return profile, domain.NewInvalidInput("patient.date_of_birth", err.Error())
		}
		profile.DateOfBirth = &dob
	}
	return profile, nil
}

func (p EvaluateStudyParams) toRequest() (*domain.EvaluationRequest, error) {
	meta, err := p.Study.toMetadata()
	if err != nil {
		return nil, err
	}
	patient, err := p.Patient.toProfile()
	if err != nil {
		return nil, err
	}
	req := &domain.EvaluationRequest{
		Metadata:   meta,
		Patient:    patient,
		Detections: make([]domain.LesionDetection, 0, len(p.Detections)),
	}
	for _, d := range p.Detections {
		req.Detections = append(req.Detections, d.toDetection())
	}
	return req, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func (s *LiteServer) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolEvaluateStudy,
		Description: "Evaluate the lesion detections of one mammography study: classify findings, assign BI-RADS categories, estimate risk and produce recommendations with patient explanations",
	}, s.handleEvaluateStudy)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolEvaluateBatch,
		Description: "Evaluate several studies concurrently; each study succeeds or fails on its own",
	}, s.handleEvaluateBatch)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolClassifyDetection,
		Description: "Classify and score a single detected region without a full study evaluation",
	}, s.handleClassifyDetection)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolParseDetections,
		Description: "Convert raw detector output into detections, dropping boxes below the confidence floor",
	}, s.handleParseDetections)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolExplainRecommendations,
		Description: "Render patient-facing explanations for a list of recommendation types",
	}, s.handleExplainRecommendations)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolSubmitReview,
		Description: "Record a radiologist's BI-RADS category for a study or finding next to the engine's",
	}, s.handleSubmitReview)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolListReviews,
		Description: "List stored radiologist reviews with the overall agreement rate",
	}, s.handleListReviews)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolExportReviews,
		Description: "Export all radiologist reviews to a JSON file in the data directory",
	}, s.handleExportReviews)

	s.logger.WithField("tool_count", 8).Info("Successfully registered all tools")
}

func (s *LiteServer) handleEvaluateStudy(ctx context.Context, _ *mcp.CallToolRequest, params EvaluateStudyParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolEvaluateStudy).Debug("Tool invoked")

	req, err := params.toRequest()
	if err != nil {
		return s.errorResult("Invalid study", err), nil, nil
	}
	eval, err := s.evaluator.Evaluate(ctx, req)
	if err != nil {
		return s.errorResult("Evaluation failed", err), nil, nil
	}
	return s.jsonResult(fmt.Sprintf("Study %s: BI-RADS %s with %d findings",
		eval.StudyID, eval.OverallAssessment.Category, len(eval.Findings)), eval)
}

func (s *LiteServer) handleEvaluateBatch(ctx context.Context, _ *mcp.CallToolRequest, params EvaluateBatchParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolEvaluateBatch).Debug("Tool invoked")

	if len(params.Studies) == 0 || len(params.Studies) > maxBatchStudies {
		return s.errorResult("Invalid batch",
			fmt.Errorf("batch must contain between 1 and %d studies", maxBatchStudies)), nil, nil
	}

	items := make([]worker.BatchItem, len(params.Studies))
	reqs := make([]*domain.EvaluationRequest, 0, len(params.Studies))
	positions := make([]int, 0, len(params.Studies))
	for i, p := range params.Studies {
		req, err := p.toRequest()
		if err != nil {
			items[i] = worker.BatchItem{StudyID: p.Study.StudyID, Err: err, Error: err.Error()}
			continue
		}
		reqs = append(reqs, req)
		positions = append(positions, i)
	}

	for j, item := range s.batch.EvaluateAll(ctx, reqs) {
		items[positions[j]] = item
	}

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	return s.jsonResult(fmt.Sprintf("Evaluated %d studies, %d failed", len(items), failed), items)
}

func (s *LiteServer) handleClassifyDetection(_ context.Context, _ *mcp.CallToolRequest, params ClassifyDetectionParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolClassifyDetection).Debug("Tool invoked")

	meta, err := params.Study.toMetadata()
	if err != nil {
		return s.errorResult("Invalid study", err), nil, nil
	}
	det := params.Detection.toDetection()

	finding, err := s.evaluator.Classifier().Classify(det, meta, 1)
	if err != nil {
		return s.errorResult("Classification failed", err), nil, nil
	}
	scorer := s.evaluator.Scorer()
	finding.BIRADS = scorer.ScoreFinding(finding, det.BiopsyProvenMalignant)

	result := ClassifyDetectionResult{
		Finding:  finding,
		FollowUp: scorer.FollowUp(finding.BIRADS.Category),
	}
	return s.jsonResult(fmt.Sprintf("%s finding, BI-RADS %s", finding.Type, finding.BIRADS.Category), result)
}

func (s *LiteServer) handleParseDetections(_ context.Context, _ *mcp.CallToolRequest, params ParseDetectionsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolParseDetections).Debug("Tool invoked")

	if params.DetectorOutput == "" {
		return s.errorResult("Missing required parameter", errors.New("detector_output is required")), nil, nil
	}
	detections, out, err := s.parser.Parse([]byte(params.DetectorOutput))
	if err != nil {
		return s.errorResult("Invalid detector output", err), nil, nil
	}

	result := ParseDetectionsResult{
		Detections: detections,
		Received:   len(out.Detections),
		Kept:       len(detections),
		ImagePath:  out.ImagePath,
	}
	return s.jsonResult(fmt.Sprintf("Kept %d of %d detections", result.Kept, result.Received), result)
}

func (s *LiteServer) handleExplainRecommendations(_ context.Context, _ *mcp.CallToolRequest, params ExplainRecommendationsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolExplainRecommendations).Debug("Tool invoked")

	if len(params.Recommendations) == 0 {
		return s.errorResult("Missing required parameter", errors.New("recommendations is required")), nil, nil
	}
	density := domain.DensityCategory(params.Density)
	if density != "" && !density.IsValid() {
		return s.errorResult("Invalid density", fmt.Errorf("unsupported density category %q", params.Density)), nil, nil
	}

	recs := make([]domain.Recommendation, 0, len(params.Recommendations))
	for _, r := range params.Recommendations {
		recs = append(recs, domain.Recommendation{
			Type:               domain.RecommendationType(r.Type),
			SupportingFindings: r.SupportingFindings,
		})
	}

	explainer := s.evaluator.Explainer()
	explanations := explainer.Explain(recs, density, params.Language)
	return s.jsonResult(fmt.Sprintf("%d explanations in %s", len(explanations), explainer.ResolveLanguage(params.Language)), explanations)
}

func (s *LiteServer) handleSubmitReview(ctx context.Context, _ *mcp.CallToolRequest, params SubmitReviewParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolSubmitReview).Debug("Tool invoked")

	review := &feedback.Review{
		StudyID:          params.StudyID,
		FindingID:        params.FindingID,
		EngineCategory:   domain.BIRADSCategory(params.EngineCategory),
		ReviewerCategory: domain.BIRADSCategory(params.ReviewerCategory),
		Reviewer:         params.Reviewer,
		RulesVersion:     params.RulesVersion,
		Notes:            params.Notes,
	}
	if review.RulesVersion == "" {
		review.RulesVersion = s.evaluator.Rules().Version
	}

	if err := s.reviews.Save(ctx, review); err != nil {
		if errors.Is(err, feedback.ErrInvalidReview) {
			return s.errorResult("Invalid review", err), nil, nil
		}
		s.logger.WithError(err).Error("Failed to save review")
		return nil, nil, fmt.Errorf("saving review: %w", err)
	}

	summary := "Review recorded: reviewer agreed with the engine"
	if !review.Agreed {
		summary = fmt.Sprintf("Review recorded: engine BI-RADS %s corrected to %s", review.EngineCategory, review.ReviewerCategory)
	}
	return s.jsonResult(summary, review)
}

func (s *LiteServer) handleListReviews(ctx context.Context, _ *mcp.CallToolRequest, params ListReviewsParams) (*mcp.CallToolResult, any, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	if params.Offset < 0 {
		return s.errorResult("Invalid offset", errors.New("offset must be non-negative")), nil, nil
	}

	reviews, err := s.reviews.List(ctx, limit, params.Offset)
	if err != nil {
		return nil, nil, fmt.Errorf("listing reviews: %w", err)
	}
	total, err := s.reviews.Count(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("counting reviews: %w", err)
	}
	agreement, err := s.reviews.AgreementRate(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("computing agreement: %w", err)
	}
	if reviews == nil {
		reviews = []*feedback.Review{}
	}

	return s.jsonResult(fmt.Sprintf("%d of %d reviews, agreement %.0f%%", len(reviews), total, agreement.Rate*100),
		ReviewListResult{Reviews: reviews, Total: total, Agreement: agreement})
}

func (s *LiteServer) handleExportReviews(ctx context.Context, _ *mcp.CallToolRequest, _ ExportReviewsParams) (*mcp.CallToolResult, any, error) {
	exportDir := s.config.ExportDir()
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating export directory: %w", err)
	}

	filePath := filepath.Join(exportDir, fmt.Sprintf("reviews_export_%s.json", s.now().Format("20060102_150405")))
	file, err := os.Create(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("creating export file: %w", err)
	}
	defer file.Close()

	if err := s.reviews.ExportJSON(ctx, file); err != nil {
		s.logger.WithError(err).Error("Failed to export reviews")
		return nil, nil, fmt.Errorf("exporting reviews: %w", err)
	}

	count, _ := s.reviews.Count(ctx)
	s.logger.WithFields(logrus.Fields{"file": filePath, "count": count}).Info("Reviews exported")
	return s.jsonResult(fmt.Sprintf("Exported %d reviews to %s", count, filePath),
		ExportReviewsResult{FilePath: filePath, Count: count})
}

// jsonResult returns a summary line followed by the JSON payload.
func (s *LiteServer) jsonResult(summary string, payload any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// errorResult creates a standardized error result for tool calls
func (s *LiteServer) errorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
