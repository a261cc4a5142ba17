package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/domain"
)

// Tool names.
const (
	ToolAnalyze          = "analyze_pharmacogenomics"
	ToolListDrugs        = "list_supported_drugs"
	ToolGetGene          = "get_gene_info"
	ToolResolvePhenotype = "resolve_phenotype"
)

// AnalyzeInput is the argument object of analyze_pharmacogenomics.
type AnalyzeInput struct {
	VCFContent string `json:"vcf_content" jsonschema:"full text of a VCF v4.x file"`
	Drugs      string `json:"drugs" jsonschema:"comma-separated drug names, e.g. WARFARIN,CLOPIDOGREL"`
	PatientID  string `json:"patient_id,omitempty" jsonschema:"patient identifier echoed in every result; generated when empty"`
}

// GeneInput names one supported gene.
type GeneInput struct {
	Gene string `json:"gene" jsonschema:"gene symbol, e.g. CYP2C19"`
}

// PhenotypeInput asks for the phenotype of a diplotype.
type PhenotypeInput struct {
	Gene      string `json:"gene" jsonschema:"gene symbol, e.g. CYP2C9"`
	Diplotype string `json:"diplotype" jsonschema:"star-allele pair such as *1/*3"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolAnalyze,
		Description: "Predict drug response risk from a patient VCF. Returns one result per requested drug with risk label, diplotype, phenotype, CPIC recommendation and quality metrics.",
	}, s.handleAnalyze)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolListDrugs,
		Description: "List the drugs with pharmacogenomic guidance and the gene that governs each.",
	}, s.handleListDrugs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolGetGene,
		Description: "Show the positions of interest and star alleles defined for a gene.",
	}, s.handleGetGene)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolResolvePhenotype,
		Description: "Map a star-allele diplotype to its metabolizer phenotype.",
	}, s.handleResolvePhenotype)
}

func (s *Server) handleAnalyze(ctx context.Context, _ *mcp.CallToolRequest, in AnalyzeInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.VCFContent) == "" {
		return nil, nil, domain.NewValidationError("vcf_content", "vcf_content is required", "")
	}
	drugs := domain.ParseDrugList(in.Drugs)
	if len(drugs) == 0 {
		return nil, nil, domain.NewValidationError("drugs", "at least one drug is required", in.Drugs)
	}
	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		patientID = uuid.New().String()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	results, err := s.analyzer.Analyze(ctx, domain.AnalysisRequest{
		PatientID: patientID,
		VCF:       strings.NewReader(in.VCFContent),
		Drugs:     drugs,
	})
	if err != nil {
		return nil, nil, analysisToolError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id": patientID,
		"drugs":      len(drugs),
	}).Info("MCP analysis served")
	return jsonResult(results)
}

func analysisToolError(err error) error {
	var formatErr *domain.FormatError
	var parseErr *domain.ParseError
	switch {
	case errors.As(err, &formatErr):
		return fmt.Errorf("input is not a VCF file: %w", err)
	case errors.As(err, &parseErr):
		return fmt.Errorf("VCF file could not be read: %w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return errors.New("analysis did not finish in time")
	default:
		return fmt.Errorf("analysis failed: %w", err)
	}
}

func (s *Server) handleListDrugs(_ context.Context, _ *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
	return jsonResult(map[string]interface{}{
		"version": s.kb.Version(),
		"drugs":   s.kb.Drugs(),
	})
}

func (s *Server) handleGetGene(_ context.Context, _ *mcp.CallToolRequest, in GeneInput) (*mcp.CallToolResult, any, error) {
	info, ok := s.kb.Gene(in.Gene)
	if !ok {
		return nil, nil, fmt.Errorf("gene %q is not supported", in.Gene)
	}
	return jsonResult(info)
}

func (s *Server) handleResolvePhenotype(_ context.Context, _ *mcp.CallToolRequest, in PhenotypeInput) (*mcp.CallToolResult, any, error) {
	info, ok := s.kb.Gene(in.Gene)
	if !ok {
		return nil, nil, fmt.Errorf("gene %q is not supported", in.Gene)
	}
	diplotype, err := s.kb.ParseDiplotype(info.Symbol, in.Diplotype)
	if err != nil {
		return nil, nil, err
	}
	phenotype := s.kb.PhenotypeOf(info.Symbol, diplotype)
	return jsonResult(map[string]interface{}{
		"gene":        info.Symbol,
		"diplotype":   diplotype.String(),
		"phenotype":   phenotype,
		"description": phenotype.Description(),
	})
}

// jsonResult renders v as the single text block of a tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
