package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs.
const (
	KnowledgeBaseURI = "pharmaguard://knowledge-base"
	geneURIPrefix    = "pharmaguard://genes/"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         KnowledgeBaseURI,
		Name:        "knowledge-base",
		Description: "Reference data version, supported genes and drugs",
		MIMEType:    "application/json",
	}, s.readKnowledgeBase)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: geneURIPrefix + "{gene}",
		Name:        "gene",
		Description: "Positions of interest and star alleles for one gene",
		MIMEType:    "application/json",
	}, s.readGene)
}

func (s *Server) readKnowledgeBase(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, map[string]interface{}{
		"version":    s.kb.Version(),
		"genes":      s.kb.Genes(),
		"drugs":      s.kb.Drugs(),
		"guidelines": s.kb.GuidelineCount(),
	})
}

func (s *Server) readGene(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	symbol := strings.TrimPrefix(req.Params.URI, geneURIPrefix)
	info, ok := s.kb.Gene(symbol)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return jsonResource(req.Params.URI, info)
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
