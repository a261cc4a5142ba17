package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/pharmaguard-server/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g.
// PHARMAGUARD_SERVER_PORT or PHARMAGUARD_EXPLANATION_API_KEY.
const EnvPrefix = "PHARMAGUARD"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager creates a new configuration manager that searches the default
// config locations.
func NewManager() (*Manager, error) {
	return NewManagerWithFile("")
}

// NewManagerWithFile creates a configuration manager that reads path
// instead of searching. An empty path searches the default locations.
func NewManagerWithFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pharmaguard/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_upload_bytes", 5<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")

	// Analysis defaults
	v.SetDefault("analysis.request_timeout", "30s")
	v.SetDefault("analysis.max_parallel_drugs", 4)
	v.SetDefault("analysis.honor_filters", true)
	v.SetDefault("analysis.min_called_positions", 0)
	v.SetDefault("analysis.max_line_bytes", 1<<20)

	// Knowledge base defaults
	v.SetDefault("knowledge_base.source", "embedded")
	v.SetDefault("knowledge_base.path", "")
	v.SetDefault("knowledge_base.dsn", "")

	// Explanation defaults
	v.SetDefault("explanation.enabled", false)
	v.SetDefault("explanation.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("explanation.api_key", "")
	v.SetDefault("explanation.model", "gemini-2.0-flash")
	v.SetDefault("explanation.timeout", "20s")
	v.SetDefault("explanation.rate_limit", 2)
	v.SetDefault("explanation.retry_count", 2)
	v.SetDefault("explanation.failure_threshold", 5)

	// Cache defaults; an empty redis_url keeps explanations in memory only
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Rate limit defaults
	v.SetDefault("rate_limit.requests_per_second", 5)
	v.SetDefault("rate_limit.burst", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetAnalysisConfig returns the inference engine configuration
func (m *Manager) GetAnalysisConfig() *domain.AnalysisConfig {
	return &m.config.Analysis
}

// GetKnowledgeBaseConfig returns the knowledge base source configuration
func (m *Manager) GetKnowledgeBaseConfig() *domain.KnowledgeBaseConfig {
	return &m.config.KnowledgeBase
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the server cannot start with.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be positive")
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS requires cert_file and key_file")
	}

	if config.Analysis.RequestTimeout <= 0 {
		return fmt.Errorf("analysis request_timeout must be positive")
	}
	if config.Analysis.MaxParallelDrugs < 0 {
		return fmt.Errorf("analysis max_parallel_drugs cannot be negative")
	}
	if config.Analysis.MinCalledPositions < 0 {
		return fmt.Errorf("analysis min_called_positions cannot be negative")
	}

	switch config.KnowledgeBase.Source {
	case "embedded":
	case "file", "sqlite":
		if config.KnowledgeBase.Path == "" {
			return fmt.Errorf("knowledge_base.path is required for source %q", config.KnowledgeBase.Source)
		}
	case "postgres":
		if config.KnowledgeBase.DSN == "" {
			return fmt.Errorf("knowledge_base.dsn is required for source postgres")
		}
	default:
		return fmt.Errorf("invalid knowledge base source: %s", config.KnowledgeBase.Source)
	}

	if config.Explanation.Enabled && config.Explanation.APIKey == "" {
		return fmt.Errorf("explanation.api_key is required when explanations are enabled")
	}

	if config.RateLimit.RequestsPerSecond < 0 || config.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if f := strings.ToLower(config.Logging.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
