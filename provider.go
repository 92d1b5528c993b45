package srtm

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// A Provider returns elevations at geographic coordinates.
type Provider struct {
	cache *TileCache
}

// NewProvider returns a new Provider that gets tiles from cache.
func NewProvider(cache *TileCache) *Provider {
	return &Provider{
		cache: cache,
	}
}

// NewArchiveProvider returns a new Provider that caches tiles fetched by
// fetcher in a single zip archive in cacheDir.
func NewArchiveProvider(cacheDir string, fetcher Fetcher, options ...TileCacheOption) (*Provider, error) {
	store, err := NewArchiveStore(cacheDir, WithStoreLogger(tileCacheLogger(options)))
	if err != nil {
		return nil, err
	}
	return newProvider(store, fetcher, options)
}

// NewObjectProvider returns a new Provider that caches decoded tiles fetched
// by fetcher as one file per tile in cacheDir.
func NewObjectProvider(cacheDir string, fetcher Fetcher, options ...TileCacheOption) (*Provider, error) {
	store, err := NewObjectStore(cacheDir, WithStoreLogger(tileCacheLogger(options)))
	if err != nil {
		return nil, err
	}
	return newProvider(store, fetcher, options)
}

func newProvider(store Store, fetcher Fetcher, options []TileCacheOption) (*Provider, error) {
	cache, err := NewTileCache(store, fetcher, options...)
	if err != nil {
		return nil, err
	}
	return NewProvider(cache), nil
}

// Cache returns p's tile cache.
func (p *Provider) Cache() *TileCache {
	return p.cache
}

// Elevation returns the elevation in meters at lat, lon. It returns NaN if
// there is no data at lat, lon, and an error matching [ErrOutOfRange] or
// [ErrFetchFailed] on failure.
func (p *Provider) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	tileID, err := NewTileID(lat, lon)
	if err != nil {
		return 0, err
	}
	grid, err := p.cache.Get(ctx, tileID)
	if err != nil {
		return 0, err
	}
	return interpolate(grid, tileID, lat, lon), nil
}

// Elevations returns the elevations at coords, which are in longitude,
// latitude order. Missing elevations are represented by NaNs. It is faster
// than calling [Provider.Elevation] for each coordinate.
func (p *Provider) Elevations(ctx context.Context, coords [][]float64) ([]float64, error) {
	elevations := make([]float64, len(coords))

	// Group indexes by tile.
	tileIDs := make([]TileID, len(coords))
	indexesByTileID := make(map[TileID][]int)
	for index, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate %d: %w: need longitude and latitude", index, ErrOutOfRange)
		}
		tileID, err := NewTileID(coord[1], coord[0])
		if err != nil {
			return nil, fmt.Errorf("coordinate %d: %w", index, err)
		}
		tileIDs[index] = tileID
		indexesByTileID[tileID] = append(indexesByTileID[tileID], index)
	}

	// Populate elevations one tile at a time.
	for tileID, indexes := range indexesByTileID {
		grid, err := p.cache.Get(ctx, tileID)
		if err != nil {
			return nil, err
		}
		for _, index := range indexes {
			elevations[index] = interpolate(grid, tileID, coords[index][1], coords[index][0])
		}
	}

	return elevations, nil
}

// Tile returns the grid of the tile containing lat, lon, or nil if the tile
// has no coverage. The grid must not be modified.
func (p *Provider) Tile(ctx context.Context, lat, lon float64) (*Grid, error) {
	tileID, err := NewTileID(lat, lon)
	if err != nil {
		return nil, err
	}
	return p.cache.Get(ctx, tileID)
}

// IsNoData returns if elevation represents no data.
func IsNoData(elevation float64) bool {
	return math.IsNaN(elevation)
}

func interpolate(grid *Grid, tileID TileID, lat, lon float64) float64 {
	if grid == nil {
		return math.NaN()
	}
	dy, dx := tileID.Offset(lat, lon)
	elevation, ok := grid.Interpolate(dy, dx)
	if !ok {
		return math.NaN()
	}
	return elevation
}

// tileCacheLogger returns the logger set by options.
func tileCacheLogger(options []TileCacheOption) zerolog.Logger {
	c := &TileCache{
		logger: zerolog.Nop(),
	}
	for _, option := range options {
		option(c)
	}
	return c.logger
}
