package external

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pharmaguard-server/internal/domain"
)

// ExplanationCache stores generated explanations keyed by their facts
type ExplanationCache interface {
	GetExplanation(ctx context.Context, facts domain.ExplanationFacts) (domain.Explanation, bool, error)
	SetExplanation(ctx context.Context, facts domain.ExplanationFacts, explanation domain.Explanation, ttl time.Duration) error
}

// ExplanationPurger removes cached explanations whose keys match a pattern
type ExplanationPurger interface {
	InvalidatePattern(ctx context.Context, pattern string) error
}

// RemoteStatsReporter describes a shared cache tier
type RemoteStatsReporter interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// HealthReporter is implemented by providers guarded by a circuit breaker
type HealthReporter interface {
	Health() ServiceHealth
}

// ExplainerHealth summarizes the explanation chain for health checks
type ExplainerHealth struct {
	Provider    *ServiceHealth         `json:"provider,omitempty"`
	Cache       CacheStats             `json:"cache"`
	Remote      map[string]interface{} `json:"remote,omitempty"`
	RemoteError string                 `json:"remote_error,omitempty"`
}

// ExternalServiceType represents the source of generated text
type ExternalServiceType string

const (
	ServiceTypeGemini ExternalServiceType = "Gemini"
)

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `json:"max_requests"`
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	FailureThreshold uint32        `json:"failure_threshold"`
}

// ServiceHealth represents the health status of external services
type ServiceHealth struct {
	Service ExternalServiceType `json:"service"`
	Healthy bool                `json:"healthy"`
	State   string              `json:"state"`
	Error   string              `json:"error,omitempty"`
}

// APIStatusError is returned when an external API answers with a non-2xx status
type APIStatusError struct {
	Service    ExternalServiceType
	StatusCode int
	Body       string
}

func (e *APIStatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again
func (e *APIStatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func newCircuitBreaker(name string, config CircuitBreakerConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 3
	}
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}
