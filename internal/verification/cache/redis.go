package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"verigate/internal/verification/providers"
	"verigate/pkg/platform/sentinel"
)

const keyPrefix = "verigate:score:"

// RedisCache stores provider results in Redis with a TTL.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

type redisResult struct {
	ProviderID string            `json:"provider_id"`
	Kind       string            `json:"kind"`
	Score      float64           `json:"score"`
	Passed     bool              `json:"passed"`
	Fields     map[string]string `json:"fields,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
}

func (c *RedisCache) Save(ctx context.Context, key string, result *providers.Result) error {
	if result == nil {
		return nil
	}
	payload, err := json.Marshal(redisResult{
		ProviderID: result.ProviderID,
		Kind:       string(result.Kind),
		Score:      result.Score,
		Passed:     result.Passed,
		Fields:     result.Fields,
		CheckedAt:  result.CheckedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal cached result: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache provider result: %w", err)
	}
	return nil
}

func (c *RedisCache) Find(ctx context.Context, key string) (*providers.Result, error) {
	payload, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read cached result: %w", err)
	}
	var stored redisResult
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return &providers.Result{
		ProviderID: stored.ProviderID,
		Kind:       providers.Kind(stored.Kind),
		Score:      stored.Score,
		Passed:     stored.Passed,
		Fields:     stored.Fields,
		CheckedAt:  stored.CheckedAt,
	}, nil
}
