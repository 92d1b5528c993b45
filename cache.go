package srtm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// MaxTiles is the number of one-degree tiles covering the Earth.
const MaxTiles = 180 * 360

const maxFetchAttempts = 2

// ErrFetchFailed is returned when a tile could not be fetched. The failure
// is not cached, so a later request will try again.
var ErrFetchFailed = errors.New("fetch failed")

var (
	tileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srtm_tile_cache_hits_total",
		Help: "The total number of hits on the in-memory tile cache",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srtm_tile_cache_misses_total",
		Help: "The total number of misses on the in-memory tile cache",
	})
	missingTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srtm_missing_tile_cache_hits_total",
		Help: "The total number of hits on tiles known to have no coverage",
	})
	tileStoreLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srtm_tile_store_loads_total",
		Help: "The total number of tiles loaded from persistent storage",
	})
	corruptCacheEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srtm_corrupt_cache_entries_total",
		Help: "The total number of unreadable tiles found in persistent storage",
	})
	tileFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srtm_tile_fetches_total",
		Help: "The total number of tile fetches",
	})
	tileFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srtm_tile_fetch_failures_total",
		Help: "The total number of failed tile fetches",
	})
	tileFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "srtm_tile_fetch_duration_seconds",
		Help:    "The duration of tile fetches",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

// A tileCacheEntry is a materialized tile. A nil grid means that the tile
// has no coverage.
type tileCacheEntry struct {
	grid *Grid
}

// A TileCache returns tiles from memory, from a [Store], or from a
// [Fetcher], in that order. Each tile is materialized at most once at a time:
// concurrent requests for the same tile share a single load.
type TileCache struct {
	store       Store
	fetcher     Fetcher
	logger      zerolog.Logger
	memoryTiles int
	entries     *lru.Cache[TileID, tileCacheEntry]
	group       singleflight.Group
}

// A TileCacheOption sets an option on a TileCache.
type TileCacheOption func(*TileCache)

// NewTileCache returns a new TileCache that persists tiles in store and
// fetches missing tiles with fetcher.
func NewTileCache(store Store, fetcher Fetcher, options ...TileCacheOption) (*TileCache, error) {
	if store == nil || fetcher == nil {
		return nil, errors.New("store and fetcher required")
	}
	c := &TileCache{
		store:       store,
		fetcher:     fetcher,
		logger:      zerolog.Nop(),
		memoryTiles: MaxTiles,
	}
	for _, option := range options {
		option(c)
	}

	var err error
	c.entries, err = lru.New[TileID, tileCacheEntry](c.memoryTiles)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) TileCacheOption {
	return func(c *TileCache) {
		c.logger = logger
	}
}

// WithMemoryTiles sets the maximum number of tiles held in memory. The
// default, [MaxTiles], holds every tile. Evicted tiles are reloaded from the
// store.
func WithMemoryTiles(memoryTiles int) TileCacheOption {
	return func(c *TileCache) {
		c.memoryTiles = memoryTiles
	}
}

// Get returns the grid for tileID. It returns nil and no error if the tile
// has no coverage.
//
// If ctx is canceled while the tile is loading then Get returns ctx's error
// but the load continues for the benefit of other callers.
func (c *TileCache) Get(ctx context.Context, tileID TileID) (*Grid, error) {
	if entry, ok := c.entries.Get(tileID); ok {
		return c.hit(entry), nil
	}

	resultCh := c.group.DoChan(tileID.Name(), func() (any, error) {
		return c.load(context.WithoutCancel(ctx), tileID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(tileCacheEntry).grid, nil
	}
}

// Len returns the number of tiles in memory, including tiles with no
// coverage.
func (c *TileCache) Len() int {
	return c.entries.Len()
}

// Purge removes all tiles from memory. Persisted tiles are not affected.
func (c *TileCache) Purge() {
	c.entries.Purge()
}

// Store returns c's store.
func (c *TileCache) Store() Store {
	return c.store
}

func (c *TileCache) hit(entry tileCacheEntry) *Grid {
	if entry.grid == nil {
		missingTileCacheHits.Inc()
	} else {
		tileCacheHits.Inc()
	}
	return entry.grid
}

// load materializes tileID. It is only called by one goroutine at a time for
// each tile.
func (c *TileCache) load(ctx context.Context, tileID TileID) (tileCacheEntry, error) {
	// Another load may have completed between the caller's cache check and
	// this load starting.
	if entry, ok := c.entries.Peek(tileID); ok {
		return entry, nil
	}
	tileCacheMisses.Inc()

	logger := c.logger.With().Stringer("tile", tileID).Logger()

	switch grid, err := c.store.Load(tileID); {
	case err == nil:
		tileStoreLoads.Inc()
		entry := tileCacheEntry{grid: grid}
		c.entries.Add(tileID, entry)
		return entry, nil
	case errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, ErrMalformedTile):
		corruptCacheEntries.Inc()
		logger.Warn().Err(err).Msg("discarding unreadable cached tile")
	default:
		logger.Warn().Err(err).Msg("cannot load cached tile")
	}

	grid, err := c.fetch(ctx, tileID)
	switch {
	case errors.Is(err, ErrNoCoverage):
		logger.Debug().Msg("no coverage")
		entry := tileCacheEntry{}
		c.entries.Add(tileID, entry)
		return entry, nil
	case err != nil:
		return tileCacheEntry{}, err
	}

	if err := c.store.Save(grid); err != nil {
		logger.Error().Err(err).Msg("cannot save tile")
	}

	entry := tileCacheEntry{grid: grid}
	c.entries.Add(tileID, entry)
	return entry, nil
}

// fetch fetches and decodes tileID. A payload that cannot be decoded is
// fetched again up to maxFetchAttempts times in total.
func (c *TileCache) fetch(ctx context.Context, tileID TileID) (*Grid, error) {
	var err error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		var grid *Grid
		grid, err = c.fetchOnce(ctx, tileID)
		switch {
		case err == nil:
			return grid, nil
		case errors.Is(err, ErrNoCoverage):
			return nil, ErrNoCoverage
		case !errors.Is(err, ErrMalformedTile):
			return nil, fmt.Errorf("%s: %w: %w", tileID, ErrFetchFailed, err)
		}
		c.logger.Warn().
			Err(err).
			Stringer("tile", tileID).
			Int("attempt", attempt).
			Msg("fetched malformed tile")
	}
	return nil, fmt.Errorf("%s: %w: %w", tileID, ErrFetchFailed, err)
}

func (c *TileCache) fetchOnce(ctx context.Context, tileID TileID) (*Grid, error) {
	tileFetches.Inc()
	start := time.Now()
	data, err := c.fetcher.Fetch(ctx, tileID)
	tileFetchDuration.Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, ErrNoCoverage):
		return nil, ErrNoCoverage
	case err != nil:
		tileFetchFailures.Inc()
		c.logger.Warn().
			Err(err).
			Stringer("tile", tileID).
			Msg("fetch failed")
		return nil, err
	}

	grid, err := DecodeHGT(tileID, data)
	if err != nil {
		tileFetchFailures.Inc()
		return nil, err
	}
	c.logger.Debug().
		Stringer("tile", tileID).
		Int("resolution", grid.Resolution).
		Dur("duration", time.Since(start)).
		Msg("fetched tile")
	return grid, nil
}
