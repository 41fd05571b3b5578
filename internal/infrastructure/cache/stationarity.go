package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/signalrun/internal/domain/fracdiff"
)

// Lookup results reported to the observer.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// StationarityCache memoizes fracdiff.FindMinD keyed on the exact input
// series and search parameters. It satisfies features.Resolver.
type StationarityCache struct {
	store    Store
	ttl      time.Duration
	logger   zerolog.Logger
	observe  func(result string)
	findMinD func([]float64, fracdiff.SearchConfig) fracdiff.SearchResult
}

// NewStationarityCache wraps store. observe may be nil.
func NewStationarityCache(store Store, ttl time.Duration, logger zerolog.Logger, observe func(result string)) *StationarityCache {
	if observe == nil {
		observe = func(string) {}
	}
	return &StationarityCache{
		store:    store,
		ttl:      ttl,
		logger:   logger,
		observe:  observe,
		findMinD: fracdiff.FindMinD,
	}
}

// Key derives the cache key for x under cfg.
func Key(x []float64, cfg fracdiff.SearchConfig) string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range x {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	params, _ := json.Marshal(cfg)
	h.Write(params)
	return "fracdiff:" + hex.EncodeToString(h.Sum(nil))
}

// Resolve returns the cached search result for x or runs the search and
// stores it. Cache faults never fail the lookup.
func (c *StationarityCache) Resolve(ctx context.Context, series string, x []float64, cfg fracdiff.SearchConfig) (fracdiff.SearchResult, error) {
	key := Key(x, cfg)
	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("series", series).Msg("Stationarity cache read failed")
	} else if ok {
		var res fracdiff.SearchResult
		if err := json.Unmarshal(raw, &res); err == nil {
			c.observe(ResultHit)
			c.logger.Debug().Str("series", series).Float64("d", res.D).Msg("Stationarity cache hit")
			return res, nil
		}
		c.logger.Warn().Str("series", series).Msg("Discarding undecodable stationarity cache entry")
	}

	c.observe(ResultMiss)
	res := c.findMinD(x, cfg)
	if raw, err := json.Marshal(res); err != nil {
		c.logger.Warn().Err(err).Str("series", series).Msg("Stationarity result not cacheable")
	} else if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("series", series).Msg("Stationarity cache write failed")
	}
	return res, nil
}
