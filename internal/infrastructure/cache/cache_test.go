package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
)

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(2 * time.Minute)
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok, "expired entry must miss")
	_, ok, _ = m.Get(ctx, "b")
	assert.True(t, ok, "zero ttl never expires")
	assert.Equal(t, 1, m.Len())
}

func TestRedisCacheGet(t *testing.T) {
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewRedisCacheWithClient(db, "p:")
		mock.ExpectGet("p:k").SetVal("payload")

		v, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("payload"), v)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewRedisCacheWithClient(db, "p:")
		mock.ExpectGet("p:k").RedisNil()

		v, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewRedisCacheWithClient(db, "p:")
		mock.ExpectGet("p:k").SetErr(redis.TxFailedErr)

		_, ok, err := c.Get(ctx, "k")
		assert.Error(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisCacheSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheWithClient(db, "p:")
	mock.ExpectSet("p:k", []byte("v"), time.Hour).SetVal("OK")

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type failingStore struct{ calls int }

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	f.calls++
	return nil, false, errors.New("connection refused")
}

func (f *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	f.calls++
	return errors.New("connection refused")
}

func TestLayeredRemoteFailuresAreMisses(t *testing.T) {
	ctx := context.Background()
	remote := &failingStore{}
	l := NewLayered(remote, time.Hour, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, ok, err := l.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, gobreaker.StateOpen, l.BreakerState())
	assert.Equal(t, 3, remote.calls, "open breaker stops remote calls")

	require.NoError(t, l.Set(ctx, "k", []byte("v"), 0))
	v, ok, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "memory layer still serves")
	assert.Equal(t, []byte("v"), v)
}

func TestLayeredPromotesRemoteHits(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryCache()
	require.NoError(t, remote.Set(ctx, "k", []byte("v"), 0))
	l := NewLayered(remote, time.Hour, zerolog.Nop())

	v, ok, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, 1, l.local.Len())
}

func randomWalk(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 7))
	x := make([]float64, n)
	for i := 1; i < n; i++ {
		x[i] = x[i-1] + rng.NormFloat64()
	}
	return x
}

func TestKeyDependsOnSeriesAndParams(t *testing.T) {
	x := randomWalk(50, 1)
	cfg := fracdiff.DefaultSearchConfig()

	assert.Equal(t, Key(x, cfg), Key(append([]float64(nil), x...), cfg))

	y := append([]float64(nil), x...)
	y[10] += 1e-12
	assert.NotEqual(t, Key(x, cfg), Key(y, cfg))

	other := cfg
	other.Step = 0.1
	assert.NotEqual(t, Key(x, cfg), Key(x, other))
	assert.Contains(t, Key(x, cfg), "fracdiff:")
}

func TestStationarityCacheMemoizes(t *testing.T) {
	ctx := context.Background()
	var results []string
	c := NewStationarityCache(NewMemoryCache(), time.Hour, zerolog.Nop(), func(r string) { results = append(results, r) })
	searches := 0
	c.findMinD = func(x []float64, cfg fracdiff.SearchConfig) fracdiff.SearchResult {
		searches++
		return fracdiff.FindMinD(x, cfg)
	}

	x := randomWalk(300, 3)
	cfg := fracdiff.DefaultSearchConfig()
	first, err := c.Resolve(ctx, "log_close", x, cfg)
	require.NoError(t, err)
	second, err := c.Resolve(ctx, "log_close", x, cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, searches)
	assert.Equal(t, []string{ResultMiss, ResultHit}, results)
	assert.Equal(t, first.D, second.D)
	assert.Equal(t, first.Stationary, second.Stationary)
	assert.Len(t, second.History, len(first.History))
}

func TestStationarityCacheOverRedis(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := NewStationarityCache(NewRedisCacheWithClient(db, ""), time.Hour, zerolog.Nop(), nil)

	x := randomWalk(120, 5)
	cfg := fracdiff.DefaultSearchConfig()
	cached := fracdiff.SearchResult{D: 0.35, PValue: 0.01, Stationary: true}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	mock.ExpectGet(Key(x, cfg)).SetVal(string(raw))

	got, err := c.Resolve(ctx, "log_close", x, cfg)
	require.NoError(t, err)
	assert.Equal(t, cached.D, got.D)
	assert.True(t, got.Stationary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStationarityCacheToleratesStoreFailure(t *testing.T) {
	c := NewStationarityCache(&failingStore{}, time.Hour, zerolog.Nop(), nil)
	x := randomWalk(200, 9)
	cfg := fracdiff.DefaultSearchConfig()

	got, err := c.Resolve(context.Background(), "log_close", x, cfg)
	require.NoError(t, err)
	assert.Equal(t, fracdiff.FindMinD(x, cfg).D, got.D)
}
