//go:build integration

package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"portalquejas/internal/history"
	audit "portalquejas/pkg/platform/audit"
	"portalquejas/pkg/testutil/containers"
)

type RedisStatsCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *history.RedisStatsCache
}

func TestRedisStatsCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStatsCacheSuite))
}

func (s *RedisStatsCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.cache = history.NewRedisStatsCache(s.redis.Client, time.Second)
}

func (s *RedisStatsCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStatsCacheSuite) TestMiss() {
	_, ok, err := s.cache.Get(context.Background())
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStatsCacheSuite) TestRoundTripAndExpiry() {
	ctx := context.Background()
	recordedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	summary := audit.Summary{
		TotalRecords: 1,
		ByAction:     map[audit.ActionKind]int64{audit.ActionDelete: 1},
		ByEntity:     map[audit.Entity]int64{audit.EntityComplaint: 1},
		MostRecent: []audit.HistoryRecord{{
			ID: 1,
			Event: audit.Event{
				Action:        audit.ActionDelete,
				Entity:        audit.EntityComplaint,
				RecordID:      42,
				PreviousState: audit.Document(`{"estado":"cerrada"}`),
				Actor:         "ana@example.com",
				OccurredAt:    recordedAt,
			},
			SourceTopic:  "audit-events",
			SourceOffset: 7,
			RecordedAt:   recordedAt,
		}},
	}
	s.Require().NoError(s.cache.Set(ctx, summary))

	got, ok, err := s.cache.Get(ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(int64(1), got.ByAction[audit.ActionDelete])
	s.Require().Len(got.MostRecent, 1)
	s.JSONEq(`{"estado":"cerrada"}`, string(got.MostRecent[0].Event.PreviousState))
	s.Nil(got.MostRecent[0].Event.NewState, "absent snapshot stays absent")
	s.True(recordedAt.Equal(got.MostRecent[0].RecordedAt))

	s.Eventually(func() bool {
		_, ok, err := s.cache.Get(ctx)
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond, "entry expires after the TTL")
}
