package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pharmaguard-server/internal/domain"
)

const explanationKeyPrefix = "explanation"

// CacheClient wraps Redis client with caching functionality for generated explanations
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: ttl,
	}, nil
}

// CachedExplanation represents a cached explanation with metadata
type CachedExplanation struct {
	Data      domain.Explanation `json:"data"`
	CachedAt  time.Time          `json:"cached_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// GetExplanation retrieves a cached explanation
func (c *CacheClient) GetExplanation(ctx context.Context, facts domain.ExplanationFacts) (domain.Explanation, bool, error) {
	key := ExplanationKey(facts)

	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Explanation{}, false, nil
	}
	if err != nil {
		return domain.Explanation{}, false, fmt.Errorf("failed to get explanation cache: %w", err)
	}

	var cached CachedExplanation
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return domain.Explanation{}, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return domain.Explanation{}, false, nil
	}

	return cached.Data, true, nil
}

// SetExplanation caches an explanation
func (c *CacheClient) SetExplanation(ctx context.Context, facts domain.ExplanationFacts, explanation domain.Explanation, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	cached := CachedExplanation{
		Data:      explanation,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal explanation cache data: %w", err)
	}

	return c.redis.Set(ctx, ExplanationKey(facts), jsonData, ttl).Err()
}

// InvalidatePattern removes all cached data matching a pattern
func (c *CacheClient) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to get keys for pattern %s: %w", pattern, err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Del(ctx, keys...).Err()
}

// GetStats returns cache statistics
func (c *CacheClient) GetStats(ctx context.Context) (map[string]interface{}, error) {
	keys, err := c.redis.Keys(ctx, explanationKeyPrefix+":*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count explanation keys: %w", err)
	}

	stats := map[string]interface{}{
		"explanations": len(keys),
		"client_info": map[string]interface{}{
			"pool_stats": c.redis.PoolStats(),
		},
	}

	return stats, nil
}

// Ping checks if Redis connection is alive
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

// ExplanationKey derives a cache key from every fact that can change the
// generated text.
func ExplanationKey(facts domain.ExplanationFacts) string {
	data, err := json.Marshal(facts)
	if err != nil {
		data = []byte(fmt.Sprintf("%s:%s:%s:%s", facts.Drug, facts.Gene, facts.Diplotype, facts.Phenotype))
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%x", explanationKeyPrefix, facts.Drug, hash[:8])
}
