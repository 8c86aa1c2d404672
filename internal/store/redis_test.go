package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemprice/internal/cache"
	"gemprice/internal/models"
)

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	conn, err := cache.NewClient("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	b := NewRedisBackend(conn)
	clock := time.Date(2025, 1, 24, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return b, mr
}

func TestRedisInsertListGet(t *testing.T) {
	b, _ := newRedisBackend(t)
	ctx := context.Background()

	id1, err := b.Insert(ctx, alice, suggestion(10))
	require.NoError(t, err)
	id2, err := b.Insert(ctx, alice, suggestion(30))
	require.NoError(t, err)
	_, err = b.Insert(ctx, bob, suggestion(99))
	require.NoError(t, err)

	list, err := b.List(ctx, alice, 50, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].ID)
	assert.Equal(t, id1, list[1].ID)
	assert.Equal(t, alice.Sub, list[0].UserID)
	assert.False(t, list[0].Timestamp.IsZero())

	page, err := b.List(ctx, alice, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, id1, page[0].ID)

	got, err := b.Get(ctx, id1, alice)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.SuggestedPrice)
	assert.Equal(t, "skincare", got.ProductData.Category)
}

func TestRedisGetNotFound(t *testing.T) {
	b, _ := newRedisBackend(t)
	ctx := context.Background()
	id, err := b.Insert(ctx, alice, suggestion(10))
	require.NoError(t, err)

	_, err = b.Get(ctx, "not-an-id", alice)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.Get(ctx, "2c1d6c4e-8d0c-4bde-8d7a-8c2f0f0b9c11", alice)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.Get(ctx, id, bob)
	assert.ErrorIs(t, err, ErrNotFound, "other users' records are hidden")
}

func TestRedisInsertManyAndStats(t *testing.T) {
	b, _ := newRedisBackend(t)
	ctx := context.Background()

	stats, err := b.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStats{}, stats)

	ids, err := b.InsertMany(ctx, alice, []models.PriceSuggestion{suggestion(10), suggestion(20), suggestion(60)})
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	stats, err = b.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSuggestions)
	assert.Equal(t, 10.0, stats.MinPrice)
	assert.Equal(t, 60.0, stats.MaxPrice)
	assert.InDelta(t, 30.0, stats.AveragePrice, 1e-9)

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRedisStatsSkipsMissingDocuments(t *testing.T) {
	b, mr := newRedisBackend(t)
	ctx := context.Background()

	ids, err := b.InsertMany(ctx, alice, []models.PriceSuggestion{suggestion(10), suggestion(20), suggestion(60)})
	require.NoError(t, err)
	mr.Del(docKey(ids[2]))

	stats, err := b.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSuggestions)
	assert.Equal(t, 10.0, stats.MinPrice)
	assert.Equal(t, 20.0, stats.MaxPrice)
	assert.InDelta(t, 15.0, stats.AveragePrice, 1e-9)
}

func TestRedisFailsWhenServerDown(t *testing.T) {
	b, mr := newRedisBackend(t)
	mr.Close()

	_, err := b.Insert(context.Background(), alice, suggestion(10))
	require.Error(t, err)
	require.Error(t, b.Ping(context.Background()))
}
