package domain

import (
	"context"
)

// Analyzer runs the inference pipeline for one request
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) ([]AnalysisResult, error)
}

// ExplanationProvider turns structured facts into narrative text. It is a
// best-effort collaborator: callers keep structured output on failure.
type ExplanationProvider interface {
	Explain(ctx context.Context, facts ExplanationFacts) (Explanation, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetAnalysisConfig() *AnalysisConfig
	GetKnowledgeBaseConfig() *KnowledgeBaseConfig
	Reload() error
	Validate() error
	IsProduction() bool
	IsDevelopment() bool
}
