package external

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/pharmaguard-server/internal/domain"
)

// CachedExplainer wraps an explanation provider with multi-level caching.
// Identical concurrent requests share one upstream call.
type CachedExplainer struct {
	provider domain.ExplanationProvider

	memoryCache *lru.Cache[string, memoryEntry] // Tier 1: in-process
	remoteCache ExplanationCache                // Tier 2: shared, optional

	memoryTTL     time.Duration
	remoteTTL     time.Duration
	flightTimeout time.Duration
	inflight      singleflight.Group

	logger  *logrus.Logger
	stats   CacheStats
	statsMu sync.RWMutex
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	MemoryHits    int64     `json:"memory_hits"`
	MemoryMisses  int64     `json:"memory_misses"`
	RemoteHits    int64     `json:"remote_hits"`
	RemoteMisses  int64     `json:"remote_misses"`
	ProviderCalls int64     `json:"provider_calls"`
	ErrorCount    int64     `json:"error_count"`
	LastReset     time.Time `json:"last_reset"`
}

// CachedExplainerConfig represents configuration for the cached explainer
type CachedExplainerConfig struct {
	MemoryTTL     time.Duration `json:"memory_ttl"`
	RemoteTTL     time.Duration `json:"remote_ttl"`
	MaxMemorySize int           `json:"max_memory_size"`
	FlightTimeout time.Duration `json:"flight_timeout"` // bounds a shared upstream call
}

type memoryEntry struct {
	explanation domain.Explanation
	expiresAt   time.Time
}

// NewCachedExplainer creates a cached explainer. remote may be nil.
func NewCachedExplainer(provider domain.ExplanationProvider, remote ExplanationCache, config CachedExplainerConfig, logger *logrus.Logger) (*CachedExplainer, error) {
	if provider == nil {
		return nil, fmt.Errorf("explanation provider is required")
	}
	if config.MemoryTTL == 0 {
		config.MemoryTTL = 15 * time.Minute
	}
	if config.RemoteTTL == 0 {
		config.RemoteTTL = 24 * time.Hour
	}
	if config.MaxMemorySize == 0 {
		config.MaxMemorySize = 1000
	}
	if config.FlightTimeout == 0 {
		config.FlightTimeout = time.Minute
	}

	memoryCache, err := lru.New[string, memoryEntry](config.MaxMemorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &CachedExplainer{
		provider:      provider,
		memoryCache:   memoryCache,
		remoteCache:   remote,
		memoryTTL:     config.MemoryTTL,
		remoteTTL:     config.RemoteTTL,
		flightTimeout: config.FlightTimeout,
		logger:        logger,
		stats:         CacheStats{LastReset: time.Now()},
	}, nil
}

// Explain returns a cached explanation or asks the provider for one.
// Failures are never cached.
func (c *CachedExplainer) Explain(ctx context.Context, facts domain.ExplanationFacts) (domain.Explanation, error) {
	key := ExplanationKey(facts)

	if explanation, ok := c.getFromMemory(key); ok {
		c.record(func(s *CacheStats) { s.MemoryHits++ })
		return explanation, nil
	}
	c.record(func(s *CacheStats) { s.MemoryMisses++ })

	// The shared call outlives any single caller, so one caller giving up
	// does not fail the others waiting on the same key.
	flight := c.inflight.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()
		return c.fetch(fctx, key, facts)
	})

	select {
	case <-ctx.Done():
		c.record(func(s *CacheStats) { s.ErrorCount++ })
		return domain.Explanation{}, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			c.record(func(s *CacheStats) { s.ErrorCount++ })
			return domain.Explanation{}, res.Err
		}
		if res.Shared {
			c.logger.WithField("drug", facts.Drug).Debug("Explanation shared with concurrent request")
		}
		return res.Val.(domain.Explanation), nil
	}
}

func (c *CachedExplainer) fetch(ctx context.Context, key string, facts domain.ExplanationFacts) (domain.Explanation, error) {
	if c.remoteCache != nil {
		explanation, found, err := c.remoteCache.GetExplanation(ctx, facts)
		if err != nil {
			c.logger.WithError(err).Warn("Remote explanation cache unavailable")
		}
		if found {
			c.record(func(s *CacheStats) { s.RemoteHits++ })
			c.setInMemory(key, explanation)
			return explanation, nil
		}
		c.record(func(s *CacheStats) { s.RemoteMisses++ })
	}

	c.record(func(s *CacheStats) { s.ProviderCalls++ })
	explanation, err := c.provider.Explain(ctx, facts)
	if err != nil {
		return domain.Explanation{}, err
	}

	c.setInMemory(key, explanation)
	if c.remoteCache != nil {
		if err := c.remoteCache.SetExplanation(ctx, facts, explanation, c.remoteTTL); err != nil {
			c.logger.WithError(err).Warn("Failed to cache explanation")
		}
	}
	return explanation, nil
}

// Purge drops the cached explanations of drug from both tiers, or every
// explanation when drug is empty. It returns how many in-process entries
// were removed.
func (c *CachedExplainer) Purge(ctx context.Context, drug string) (int, error) {
	prefix := explanationKeyPrefix + ":"
	if drug = domain.NormalizeDrug(drug); drug != "" {
		prefix += drug + ":"
	}

	removed := 0
	for _, key := range c.memoryCache.Keys() {
		if strings.HasPrefix(key, prefix) && c.memoryCache.Remove(key) {
			removed++
		}
	}

	if purger, ok := c.remoteCache.(ExplanationPurger); ok {
		if err := purger.InvalidatePattern(ctx, prefix+"*"); err != nil {
			return removed, fmt.Errorf("failed to purge remote explanations: %w", err)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"drug":    drug,
		"removed": removed,
	}).Info("Explanation cache purged")
	return removed, nil
}

// Health reports the provider's breaker state and cache statistics.
func (c *CachedExplainer) Health(ctx context.Context) ExplainerHealth {
	health := ExplainerHealth{Cache: c.GetCacheStats()}
	if reporter, ok := c.provider.(HealthReporter); ok {
		status := reporter.Health()
		health.Provider = &status
	}
	if reporter, ok := c.remoteCache.(RemoteStatsReporter); ok {
		stats, err := reporter.GetStats(ctx)
		if err != nil {
			health.RemoteError = err.Error()
		} else {
			health.Remote = stats
		}
	}
	return health
}

// GetCacheStats returns cache performance statistics
func (c *CachedExplainer) GetCacheStats() CacheStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *CachedExplainer) getFromMemory(key string) (domain.Explanation, bool) {
	entry, ok := c.memoryCache.Get(key)
	if !ok {
		return domain.Explanation{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.memoryCache.Remove(key)
		return domain.Explanation{}, false
	}
	return entry.explanation, true
}

func (c *CachedExplainer) setInMemory(key string, explanation domain.Explanation) {
	c.memoryCache.Add(key, memoryEntry{
		explanation: explanation,
		expiresAt:   time.Now().Add(c.memoryTTL),
	})
}

func (c *CachedExplainer) record(update func(*CacheStats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	update(&c.stats)
}

// NewExplainerFromConfig assembles the configured explanation chain. It
// returns a nil explainer when explanations are disabled. An unreachable
// Redis leaves the explainer memory-only. The returned func releases the
// remote cache.
func NewExplainerFromConfig(explanation domain.ExplanationConfig, cache domain.CacheConfig, logger *logrus.Logger) (*CachedExplainer, func(), error) {
	noop := func() {}
	if !explanation.Enabled {
		logger.Info("Generated explanations disabled")
		return nil, noop, nil
	}
	if explanation.APIKey == "" {
		return nil, noop, fmt.Errorf("explanation API key is required when explanations are enabled")
	}

	var remote ExplanationCache
	cleanup := noop
	if cache.RedisURL != "" {
		client, err := NewCacheClient(cache)
		if err != nil {
			logger.WithError(err).Warn("Redis explanation cache unavailable, using memory only")
		} else {
			remote = client
			cleanup = func() { client.Close() }
		}
	}

	explainer, err := NewCachedExplainer(NewGeminiClientFromConfig(explanation, logger), remote, CachedExplainerConfig{
		RemoteTTL:     cache.DefaultTTL,
		MaxMemorySize: cache.MaxItems,
		FlightTimeout: explanation.Timeout * time.Duration(explanation.RetryCount+1),
	}, logger)
	if err != nil {
		cleanup()
		return nil, noop, err
	}

	logger.WithFields(logrus.Fields{
		"model":        explanation.Model,
		"remote_cache": remote != nil,
	}).Info("Generated explanations enabled")
	return explainer, cleanup, nil
}
