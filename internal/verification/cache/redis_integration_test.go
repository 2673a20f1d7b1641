//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"verigate/internal/verification/cache"
	"verigate/internal/verification/providers"
	"verigate/pkg/platform/sentinel"
	"verigate/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = cache.NewRedisCache(s.redis.Client, 5*time.Minute)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestClientHealth() {
	s.NoError(s.redis.Client.Health(context.Background()))
}

func (s *RedisCacheSuite) TestRoundTrip() {
	ctx := context.Background()
	checkedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	result := &providers.Result{
		ProviderID: "ocr-1",
		Kind:       providers.KindOcr,
		Score:      0.93,
		Passed:     true,
		Fields:     map[string]string{"full_name": "Redis Citizen"},
		CheckedAt:  checkedAt,
	}

	s.Require().NoError(s.cache.Save(ctx, "ocr:1", result))

	found, err := s.cache.Find(ctx, "ocr:1")
	s.Require().NoError(err)
	s.Equal(result.ProviderID, found.ProviderID)
	s.Equal(result.Kind, found.Kind)
	s.Equal(result.Score, found.Score)
	s.True(found.Passed)
	s.Equal("Redis Citizen", found.Fields["full_name"])
	s.True(checkedAt.Equal(found.CheckedAt))
}

func (s *RedisCacheSuite) TestMissReturnsErrNotFound() {
	_, err := s.cache.Find(context.Background(), "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisCacheSuite) TestTTLEviction() {
	ctx := context.Background()
	short := cache.NewRedisCache(s.redis.Client, 50*time.Millisecond)

	s.Require().NoError(short.Save(ctx, "liveness:1", &providers.Result{Score: 0.8}))
	time.Sleep(90 * time.Millisecond)

	_, err := short.Find(ctx, "liveness:1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
