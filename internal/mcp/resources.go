package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/mammography-findings-server/internal/domain"
)

// Resource URIs
const (
	RulesResourceURI    = "birads://rules"
	CategoriesResource  = "birads://categories"
	ReportPromptName    = "findings_report"
	reportPromptStudyID = "study_id"
)

// CategoryInfo describes one BI-RADS category under the active rules.
type CategoryInfo struct {
	Category    domain.BIRADSCategory `json:"category"`
	Description string                `json:"description"`
	FollowUp    string                `json:"follow_up,omitempty"`
}

func (s *LiteServer) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         RulesResourceURI,
		Name:        "rules",
		Description: "Active rule tables as YAML, in the same layout a rules override file uses",
		MIMEType:    "application/yaml",
	}, s.readRules)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         CategoriesResource,
		Name:        "categories",
		Description: "BI-RADS categories with their descriptions and follow-up intervals",
		MIMEType:    "application/json",
	}, s.readCategories)

	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        ReportPromptName,
		Description: "Draft a structured findings report for a study from an evaluate_study result",
		Arguments: []*mcp.PromptArgument{
			{Name: reportPromptStudyID, Description: "Study to report on", Required: true},
		},
	}, s.getReportPrompt)
}

func (s *LiteServer) readRules(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := yaml.Marshal(s.ruleSet)
	if err != nil {
		return nil, fmt.Errorf("encoding rules: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/yaml",
			Text:     string(data),
		}},
	}, nil
}

func (s *LiteServer) categories() []CategoryInfo {
	out := make([]CategoryInfo, 0, 11)
	for _, c := range append([]domain.BIRADSCategory{domain.BIRADS0}, domain.FindingCategories()...) {
		out = append(out, CategoryInfo{
			Category:    c,
			Description: s.ruleSet.Severity.Descriptions[c],
			FollowUp:    s.ruleSet.Severity.FollowUp[c],
		})
	}
	return out
}

func (s *LiteServer) readCategories(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(s.categories(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding categories: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

func (s *LiteServer) getReportPrompt(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	studyID := strings.TrimSpace(req.Params.Arguments[reportPromptStudyID])
	if studyID == "" {
		return nil, fmt.Errorf("argument %q is required", reportPromptStudyID)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Findings report for study %s", studyID),
		Messages: []*mcp.PromptMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: reportPromptText(studyID, s.ruleSet.Version)},
		}},
	}, nil
}

func reportPromptText(studyID, rulesVersion string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a structured mammography findings report for study %s.\n\n", studyID)
	b.WriteString("Use the evaluate_study result for this study and keep to these sections:\n")
	b.WriteString("1. Breast composition (density category and what it means for sensitivity)\n")
	b.WriteString("2. Findings, one line each with location, size and BI-RADS category\n")
	b.WriteString("3. Comparison with prior studies, if any\n")
	b.WriteString("4. Overall assessment and recommendations in order of urgency\n\n")
	fmt.Fprintf(&b, "Quote categories exactly as the engine assigned them (rules version %s). ", rulesVersion)
	b.WriteString("The result is decision support and must be confirmed by the reading radiologist.")
	return b.String()
}
