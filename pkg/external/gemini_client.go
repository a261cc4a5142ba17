package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/cenkalti/backoff"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/pharmaguard-server/internal/domain"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.0-flash"
	maxResponseBytes     = 1 << 20
)

// GeminiClient generates narrative explanations with the Generative Language API
type GeminiClient struct {
	baseURL      string
	apiKey       string
	model        string
	httpClient   *http.Client
	rateLimit    *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	maxRetries   int
	retryInitial time.Duration
	logger       *logrus.Logger
}

// GeminiConfig represents configuration for the Gemini API client
type GeminiConfig struct {
	BaseURL        string               `json:"base_url"`
	APIKey         string               `json:"api_key"`
	Model          string               `json:"model"`
	Timeout        time.Duration        `json:"timeout"`
	RateLimit      int                  `json:"rate_limit"` // requests per second
	MaxRetries     int                  `json:"max_retries"`
	RetryInterval  time.Duration        `json:"retry_interval"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

// NewGeminiClient creates a new Gemini API client
func NewGeminiClient(config GeminiConfig, logger *logrus.Logger) *GeminiClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultGeminiBaseURL
	}
	if config.Model == "" {
		config.Model = defaultGeminiModel
	}
	if config.Timeout == 0 {
		config.Timeout = 20 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 500 * time.Millisecond
	}

	return &GeminiClient{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		apiKey:       config.APIKey,
		model:        config.Model,
		httpClient:   &http.Client{Timeout: config.Timeout},
		rateLimit:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:      newCircuitBreaker("Gemini", config.CircuitBreaker, logger),
		maxRetries:   config.MaxRetries,
		retryInitial: config.RetryInterval,
		logger:       logger,
	}
}

// NewGeminiClientFromConfig builds a client from the application configuration
func NewGeminiClientFromConfig(cfg domain.ExplanationConfig, logger *logrus.Logger) *GeminiClient {
	return NewGeminiClient(GeminiConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		MaxRetries: cfg.RetryCount,
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
		},
	}, logger)
}

// Explain asks the model for a structured explanation of one drug result
func (g *GeminiClient) Explain(ctx context.Context, facts domain.ExplanationFacts) (domain.Explanation, error) {
	if g.apiKey == "" {
		return domain.Explanation{}, fmt.Errorf("gemini API key is not configured")
	}

	if err := g.rateLimit.Wait(ctx); err != nil {
		return domain.Explanation{}, fmt.Errorf("rate limit wait failed: %w", err)
	}

	prompt := buildExplanationPrompt(facts)
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.generateWithRetry(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Explanation{}, fmt.Errorf("gemini service unavailable (circuit breaker open): %w", err)
		}
		return domain.Explanation{}, fmt.Errorf("gemini explanation failed for %s: %w", facts.Drug, err)
	}

	explanation := result.(domain.Explanation)
	g.logger.WithFields(logrus.Fields{
		"drug": facts.Drug,
		"gene": facts.Gene,
	}).Debug("Explanation generated")
	return explanation, nil
}

// Health reports the breaker state
func (g *GeminiClient) Health() ServiceHealth {
	state := g.breaker.State()
	return ServiceHealth{
		Service: ServiceTypeGemini,
		Healthy: state != gobreaker.StateOpen,
		State:   state.String(),
	}
}

func (g *GeminiClient) generateWithRetry(ctx context.Context, prompt string) (domain.Explanation, error) {
	var explanation domain.Explanation

	retryBackoff := backoff.NewExponentialBackOff()
	retryBackoff.InitialInterval = g.retryInitial
	retryBackoff.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(retryBackoff, uint64(g.maxRetries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		result, err := g.generate(ctx, prompt)
		if err != nil {
			var statusErr *APIStatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return backoff.Permanent(err)
			}
			g.logger.WithError(err).WithField("attempt", attempt).Debug("Gemini request failed")
			return err
		}
		explanation = result
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return domain.Explanation{}, err
	}
	return explanation, nil
}

// generate performs a single generateContent call
func (g *GeminiClient) generate(ctx context.Context, prompt string) (domain.Explanation, error) {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"temperature":      0.2,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Explanation{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?%s",
		g.baseURL, url.PathEscape(g.model), url.Values{"key": {g.apiKey}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Explanation{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "PharmaGuard-Server/1.0")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return domain.Explanation{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Explanation{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Explanation{}, &APIStatusError{
			Service:    ServiceTypeGemini,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 256),
		}
	}

	return parseGenerateResponse(respBody)
}

// parseGenerateResponse extracts the first candidate's text and decodes the
// JSON object it carries.
func parseGenerateResponse(body []byte) (domain.Explanation, error) {
	jsonParsed, err := gabs.ParseJSON(body)
	if err != nil {
		return domain.Explanation{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	text, ok := jsonParsed.Path("candidates").Index(0).Path("content.parts").Index(0).Path("text").Data().(string)
	if !ok || strings.TrimSpace(text) == "" {
		reason, _ := jsonParsed.Path("promptFeedback.blockReason").Data().(string)
		if reason != "" {
			return domain.Explanation{}, fmt.Errorf("prompt blocked: %s", reason)
		}
		return domain.Explanation{}, fmt.Errorf("response contained no candidate text")
	}

	inner, err := gabs.ParseJSON([]byte(stripCodeFence(text)))
	if err != nil {
		return domain.Explanation{}, fmt.Errorf("candidate text is not JSON: %w", err)
	}
	fields, ok := inner.Data().(map[string]interface{})
	if !ok {
		return domain.Explanation{}, fmt.Errorf("candidate text is not a JSON object")
	}

	// Older prompts used these names.
	aliases := map[string]string{"explanation": "summary", "caveats": "clinical_context"}
	for from, to := range aliases {
		if v, exists := fields[from]; exists {
			if _, set := fields[to]; !set {
				fields[to] = v
			}
		}
	}

	var explanation domain.Explanation
	if err := mapstructure.Decode(fields, &explanation); err != nil {
		return domain.Explanation{}, fmt.Errorf("failed to decode explanation: %w", err)
	}
	if explanation.IsEmpty() {
		return domain.Explanation{}, fmt.Errorf("explanation fields are empty")
	}
	return explanation, nil
}

func buildExplanationPrompt(facts domain.ExplanationFacts) string {
	variants, err := json.Marshal(facts.DetectedVariants)
	if err != nil {
		variants = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("Act as a clinical pharmacogeneticist. Explain the following finding:\n")
	fmt.Fprintf(&b, "- Drug: %s\n", facts.Drug)
	fmt.Fprintf(&b, "- Gene: %s\n", facts.Gene)
	fmt.Fprintf(&b, "- Diplotype: %s\n", facts.Diplotype)
	fmt.Fprintf(&b, "- Phenotype: %s (%s)\n", facts.Phenotype, facts.Phenotype.Description())
	fmt.Fprintf(&b, "- Risk: %s (severity %s)\n", facts.RiskLabel, facts.Severity)
	fmt.Fprintf(&b, "- Recommendation: %s\n", facts.Action)
	fmt.Fprintf(&b, "- Guideline: %s\n", facts.Citation)
	fmt.Fprintf(&b, "- Detected Variants: %s\n\n", variants)
	b.WriteString("Do not change the risk, phenotype or recommendation. ")
	b.WriteString("Respond with a JSON object with string fields: ")
	b.WriteString("summary (2-3 sentences), mechanism (biochemical mechanism), ")
	b.WriteString("variant_impact (effect of the detected variants), ")
	b.WriteString("clinical_context (disclaimers and monitoring needs).")
	return b.String()
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
