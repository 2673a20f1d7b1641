package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"verigate/internal/verification/providers"
	"verigate/pkg/platform/sentinel"
)

type InMemoryCacheSuite struct {
	suite.Suite
	now   time.Time
	cache *InMemoryCache
}

func TestInMemoryCacheSuite(t *testing.T) {
	suite.Run(t, new(InMemoryCacheSuite))
}

func (s *InMemoryCacheSuite) SetupTest() {
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.cache = NewInMemoryCache(time.Minute).WithClock(func() time.Time { return s.now })
}

func (s *InMemoryCacheSuite) TestRoundTrip() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Save(ctx, "face_match:abc", &providers.Result{ProviderID: "fm", Score: 0.88}))

	found, err := s.cache.Find(ctx, "face_match:abc")
	s.Require().NoError(err)
	s.Equal(0.88, found.Score)

	found.Score = 0
	again, err := s.cache.Find(ctx, "face_match:abc")
	s.Require().NoError(err)
	s.Equal(0.88, again.Score, "callers must not mutate the cached value")
}

func (s *InMemoryCacheSuite) TestMissAndExpiry() {
	ctx := context.Background()

	s.Run("miss returns ErrNotFound", func() {
		_, err := s.cache.Find(ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("expired entry returns ErrNotFound", func() {
		s.Require().NoError(s.cache.Save(ctx, "liveness:x", &providers.Result{Score: 0.7}))
		s.now = s.now.Add(time.Minute)
		_, err := s.cache.Find(ctx, "liveness:x")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("nil result is ignored", func() {
		s.Require().NoError(s.cache.Save(ctx, "nil", nil))
		_, err := s.cache.Find(ctx, "nil")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
