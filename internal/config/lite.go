// Package config provides configuration management for the PharmaGuard
// binaries. This file contains the environment-only configuration used by
// the MCP server, which runs without a config file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pharmaguard-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the optional SQLite reference store

	// Knowledge base
	KnowledgeSource string // embedded, file, sqlite, postgres
	KnowledgePath   string // YAML file or SQLite path
	KnowledgeDSN    string // Postgres URL

	// Analysis
	HonorFilters     bool
	RequestTimeout   time.Duration
	MaxParallelDrugs int

	// Explanation settings
	GeminiAPIKey  string // Optional: enables generated explanations
	GeminiModel   string
	CacheMaxItems int           // Maximum explanations held in memory
	CacheTTL      time.Duration // Explanation cache TTL

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".pharmaguard")

	return &LiteConfig{
		DataDir:          dataDir,
		KnowledgeSource:  "embedded",
		HonorFilters:     true,
		RequestTimeout:   30 * time.Second,
		MaxParallelDrugs: 4,
		CacheMaxItems:    1000,
		CacheTTL:         24 * time.Hour,
		Transport:        "stdio",
		HTTPPort:         8090,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("PHARMAGUARD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Knowledge base
	if v := os.Getenv("PHARMAGUARD_KB_SOURCE"); v != "" {
		cfg.KnowledgeSource = v
	}
	cfg.KnowledgePath = os.Getenv("PHARMAGUARD_KB_PATH")
	cfg.KnowledgeDSN = os.Getenv("PHARMAGUARD_KB_DSN")
	if cfg.KnowledgeSource == "sqlite" && cfg.KnowledgePath == "" {
		cfg.KnowledgePath = cfg.ReferenceDBPath()
	}

	// Analysis
	if v := os.Getenv("PHARMAGUARD_HONOR_FILTERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HonorFilters = b
		}
	}
	if v := os.Getenv("PHARMAGUARD_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("PHARMAGUARD_MAX_PARALLEL_DRUGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallelDrugs = n
		}
	}

	// Explanations
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if v := os.Getenv("PHARMAGUARD_GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = v
	}
	if v := os.Getenv("PHARMAGUARD_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("PHARMAGUARD_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Transport
	if v := os.Getenv("PHARMAGUARD_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("PHARMAGUARD_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Logging
	if v := os.Getenv("PHARMAGUARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PHARMAGUARD_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// ReferenceDBPath returns the default path of the SQLite reference store.
func (c *LiteConfig) ReferenceDBPath() string {
	return filepath.Join(c.DataDir, "reference.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ExplanationsEnabled reports whether an API key was supplied.
func (c *LiteConfig) ExplanationsEnabled() bool {
	return c.GeminiAPIKey != ""
}

// AnalysisConfig maps the lite settings onto the engine configuration.
func (c *LiteConfig) AnalysisConfig() domain.AnalysisConfig {
	return domain.AnalysisConfig{
		RequestTimeout:   c.RequestTimeout,
		MaxParallelDrugs: c.MaxParallelDrugs,
		HonorFilters:     c.HonorFilters,
	}
}

// KnowledgeBaseConfig maps the lite settings onto the knowledge base source.
func (c *LiteConfig) KnowledgeBaseConfig() domain.KnowledgeBaseConfig {
	return domain.KnowledgeBaseConfig{
		Source: c.KnowledgeSource,
		Path:   c.KnowledgePath,
		DSN:    c.KnowledgeDSN,
	}
}

// ExplanationConfig maps the lite settings onto the explanation client.
func (c *LiteConfig) ExplanationConfig() domain.ExplanationConfig {
	return domain.ExplanationConfig{
		Enabled: c.ExplanationsEnabled(),
		APIKey:  c.GeminiAPIKey,
		Model:   c.GeminiModel,
	}
}

// LoggingConfig maps the lite settings onto the logger configuration.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	// stdout carries the MCP stdio protocol, so logs go to stderr
	return domain.LoggingConfig{
		Level:  c.LogLevel,
		Format: c.LogFormat,
		Output: "stderr",
	}
}
