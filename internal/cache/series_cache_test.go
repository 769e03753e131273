package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) LoadSeries(ctx context.Context, req interfaces.SeriesRequest) (*models.SeriesSet, error) {
	args := m.Called(ctx, req)
	set, _ := args.Get(0).(*models.SeriesSet)
	return set, args.Error(1)
}

func sampleSet() *models.SeriesSet {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.SeriesSet{
		IDs:        []string{"BTC", "ETH"},
		Timestamps: []time.Time{t0, t0.Add(time.Hour)},
		Values: map[string][]float64{
			"BTC": {100, 101},
			"ETH": {10, 9.5},
		},
	}
}

func TestKey(t *testing.T) {
	a := Key(interfaces.SeriesRequest{Symbols: []string{"eth", "BTC"}, Hours: 24})
	b := Key(interfaces.SeriesRequest{Symbols: []string{"BTC", "ETH", "ETH"}, Hours: 24})
	assert.Equal(t, a, b)
	assert.Equal(t, "series_set:BTC,ETH:24:latest", a)

	until := time.Unix(1700000000, 0)
	assert.Equal(t, "series_set:BTC,ETH:24:1700000000",
		Key(interfaces.SeriesRequest{Symbols: []string{"BTC", "ETH"}, Hours: 24, Until: until}))
}

func TestRedisSeriesCache_SetGet(t *testing.T) {
	s, client := setupTestRedis(t)
	c := NewRedisSeriesCache(client, 5*time.Minute, nil)
	ctx := context.Background()
	req := interfaces.SeriesRequest{Symbols: []string{"BTC", "ETH"}, Hours: 2}

	_, ok := c.Get(ctx, req)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, req, sampleSet()))
	assert.Equal(t, 5*time.Minute, s.TTL(Key(req)))

	got, ok := c.Get(ctx, req)
	require.True(t, ok)
	assert.Equal(t, sampleSet(), got)

	stats := c.GetStats()
	assert.Equal(t, SeriesCacheStats{Hits: 1, Misses: 1, Sets: 1}, stats)
	assert.InDelta(t, 50.0, stats.HitRate(), 1e-9)

	s.FastForward(6 * time.Minute)
	_, ok = c.Get(ctx, req)
	assert.False(t, ok)
}

func TestRedisSeriesCache_CorruptEntry(t *testing.T) {
	s, client := setupTestRedis(t)
	c := NewRedisSeriesCache(client, time.Minute, nil)
	req := interfaces.SeriesRequest{Symbols: []string{"BTC"}}

	require.NoError(t, s.Set(Key(req), "not json"))
	_, ok := c.Get(context.Background(), req)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.GetStats().Misses)
}

func TestRedisSeriesCache_Clear(t *testing.T) {
	s, client := setupTestRedis(t)
	c := NewRedisSeriesCache(client, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, interfaces.SeriesRequest{Symbols: []string{"BTC"}}, sampleSet()))
	require.NoError(t, c.Set(ctx, interfaces.SeriesRequest{Symbols: []string{"ETH"}}, sampleSet()))
	require.NoError(t, s.Set("other", "kept"))

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, []string{"other"}, s.Keys())
}

func TestCachedSource_LoadSeries(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewRedisSeriesCache(client, time.Minute, nil)
	req := interfaces.SeriesRequest{Symbols: []string{"BTC", "ETH"}, Hours: 2}

	next := &mockSource{}
	next.On("LoadSeries", mock.Anything, req).Return(sampleSet(), nil).Once()

	src := NewCachedSource(c, next)
	first, err := src.LoadSeries(context.Background(), req)
	require.NoError(t, err)
	second, err := src.LoadSeries(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	next.AssertExpectations(t)
	assert.Equal(t, int64(1), c.GetStats().Hits)
}

func TestCachedSource_Error(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewRedisSeriesCache(client, time.Minute, nil)
	req := interfaces.SeriesRequest{Symbols: []string{"BTC"}}

	next := &mockSource{}
	next.On("LoadSeries", mock.Anything, req).Return(nil, errors.New("db down"))

	_, err := NewCachedSource(c, next).LoadSeries(context.Background(), req)
	assert.EqualError(t, err, "db down")
	assert.Equal(t, int64(0), c.GetStats().Sets)
}
