package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Analysis      AnalysisConfig      `mapstructure:"analysis"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base"`
	Explanation   ExplanationConfig   `mapstructure:"explanation"`
	Cache         CacheConfig         `mapstructure:"cache"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
}

// AnalysisConfig tunes the inference engine
type AnalysisConfig struct {
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxParallelDrugs   int           `mapstructure:"max_parallel_drugs"`
	HonorFilters       bool          `mapstructure:"honor_filters"`
	MinCalledPositions int           `mapstructure:"min_called_positions"`
	MaxLineBytes       int           `mapstructure:"max_line_bytes"`
}

// KnowledgeBaseConfig selects where reference tables are loaded from
type KnowledgeBaseConfig struct {
	Source string `mapstructure:"source"` // "embedded", "file", "sqlite", "postgres"
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// ExplanationConfig represents the text-generation API configuration
type ExplanationConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        int           `mapstructure:"rate_limit"`
	RetryCount       int           `mapstructure:"retry_count"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// RateLimitConfig bounds per-client request rates
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
