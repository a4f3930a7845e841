package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// newTestCache подключается к Redis из REDIS_TEST_ADDRESS; без него тест пропускается.
func newTestCache(t *testing.T) *RedisCache {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDRESS is not set")
	}

	c, err := NewRedisCache(context.Background(), addr)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.client.Del(ctx, leaderboardKey, leaderboardPointsKey, "loyalty:test:lock").Err())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPublishLeaderboard(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	entries := []model.LeaderboardEntry{
		{Rank: 1, AccountID: "bob@example.com", Tier: model.TierGold, TotalPointsEarned: decimal.NewFromInt(320)},
		{Rank: 2, AccountID: "ana@example.com", Tier: model.TierBronze, TotalPointsEarned: decimal.NewFromInt(50)},
	}
	require.NoError(t, c.PublishLeaderboard(ctx, entries))

	got, err := c.GetLeaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bob@example.com", got[0].AccountID)
	assert.True(t, got[0].TotalPointsEarned.Equal(decimal.NewFromInt(320)))

	top, err := c.client.ZRevRangeWithScores(ctx, leaderboardPointsKey, 0, 0).Result()
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "bob@example.com", top[0].Member)
}

func TestAcquireLock(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	release, ok, err := c.AcquireLock(ctx, "loyalty:test:lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, "loyalty:test:lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock must be exclusive")

	require.NoError(t, release(ctx))

	_, err = c.client.Get(ctx, "loyalty:test:lock").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestGetLeaderboard_Empty(t *testing.T) {
	c := newTestCache(t)

	got, err := c.GetLeaderboard(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}
