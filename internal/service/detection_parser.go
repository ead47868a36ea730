package service

import (
	"encoding/json"
	"fmt"

	"github.com/mammography-findings-server/internal/domain"
)

// DefaultDetectionConfidence is the detector's own reporting threshold.
const DefaultDetectionConfidence = 0.8

// DetectorOutput is the JSON document the image-analysis collaborator prints per image.
type DetectorOutput struct {
	Status     string              `json:"status"`
	Message    string              `json:"message,omitempty"`
	Detections []DetectorDetection `json:"detections"`
	ImagePath  string              `json:"image_path"`
	Timestamp  string              `json:"timestamp"`
}

// DetectorDetection is one box reported by the detector.
type DetectorDetection struct {
	BoundingBox *domain.BoundingBox `json:"bbox"`
	Confidence  float64             `json:"confidence"`
}

// DetectionParser converts detector output into lesion detections.
type DetectionParser struct {
	minConfidence float64
}

// NewDetectionParser creates a parser that drops detections below minConfidence.
// A non-positive value selects DefaultDetectionConfidence.
func NewDetectionParser(minConfidence float64) *DetectionParser {
	if minConfidence <= 0 {
		minConfidence = DefaultDetectionConfidence
	}
	return &DetectionParser{minConfidence: minConfidence}
}

// Parse decodes one detector document. A detector-reported failure and any
// detection without a box are invalid input.
func (p *DetectionParser) Parse(data []byte) ([]domain.LesionDetection, *DetectorOutput, error) {
	var out DetectorOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, domain.NewInvalidInput("detector_output", fmt.Sprintf("malformed detector output: %v", err))
	}
	return p.Convert(&out)
}

// Convert turns a decoded detector document into lesion detections.
func (p *DetectionParser) Convert(out *DetectorOutput) ([]domain.LesionDetection, *DetectorOutput, error) {
	switch out.Status {
	case "success":
	case "error":
		return nil, out, domain.NewInvalidInput("detector_output.status", fmt.Sprintf("detector reported failure: %s", out.Message))
	default:
		return nil, out, domain.NewInvalidInput("detector_output.status", fmt.Sprintf("unknown detector status %q", out.Status))
	}

	detections := make([]domain.LesionDetection, 0, len(out.Detections))
	for i, d := range out.Detections {
		if d.BoundingBox == nil {
			return nil, out, domain.NewInvalidInput(fmt.Sprintf("detections[%d].bbox", i), "bounding box is required")
		}
		if d.Confidence < p.minConfidence {
			continue
		}
		box := *d.BoundingBox
		detections = append(detections, domain.LesionDetection{
			BoundingBox: &box,
			Score:       d.Confidence,
		})
	}
	return detections, out, nil
}
