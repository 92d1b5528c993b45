package srtm_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-srtm"
)

func newTestTileCache(t *testing.T, store srtm.Store, fetcher srtm.Fetcher, options ...srtm.TileCacheOption) *srtm.TileCache {
	t.Helper()
	tileCache, err := srtm.NewTileCache(store, fetcher, options...)
	assert.NoError(t, err)
	return tileCache
}

func TestTileCache(t *testing.T) {
	grid := rampGrid(srtm.TileID{Lat: 34, Lon: -119}, 5)

	for _, tc := range storeTestCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			fetcher := newTestFetcher(grid)
			tileCache := newTestTileCache(t, tc.newStore(t, dir), fetcher)

			actual, err := tileCache.Get(t.Context(), grid.TileID)
			assert.NoError(t, err)
			assert.Equal(t, grid, actual)
			assert.Equal(t, 1, fetcher.Fetches())

			// The second lookup is served from memory.
			again, err := tileCache.Get(t.Context(), grid.TileID)
			assert.NoError(t, err)
			assert.True(t, actual == again)
			assert.Equal(t, 1, fetcher.Fetches())

			// Tiles with no coverage are remembered.
			missing, err := tileCache.Get(t.Context(), srtm.TileID{Lat: 10, Lon: -30})
			assert.NoError(t, err)
			assert.Zero(t, missing)
			missing, err = tileCache.Get(t.Context(), srtm.TileID{Lat: 10, Lon: -30})
			assert.NoError(t, err)
			assert.Zero(t, missing)
			assert.Equal(t, 2, fetcher.Fetches())
			assert.Equal(t, 2, tileCache.Len())

			// Purging memory falls back to the store, not the fetcher.
			tileCache.Purge()
			assert.Equal(t, 0, tileCache.Len())
			actual, err = tileCache.Get(t.Context(), grid.TileID)
			assert.NoError(t, err)
			assert.Equal(t, grid, actual)
			assert.Equal(t, 2, fetcher.Fetches())

			// A new cache on the same directory does not fetch.
			newFetcher := newTestFetcher()
			newTileCache := newTestTileCache(t, tc.newStore(t, dir), newFetcher)
			actual, err = newTileCache.Get(t.Context(), grid.TileID)
			assert.NoError(t, err)
			assert.Equal(t, grid, actual)
			assert.Equal(t, 0, newFetcher.Fetches())
		})
	}
}

func TestTileCacheSingleFlight(t *testing.T) {
	grid := rampGrid(srtm.TileID{Lat: 34, Lon: -119}, 5)

	for _, tc := range storeTestCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(grid)
			started := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			blockingFetcher := srtm.FetcherFunc(func(ctx context.Context, tileID srtm.TileID) ([]byte, error) {
				once.Do(func() { close(started) })
				<-release
				return fetcher.Fetch(ctx, tileID)
			})
			tileCache := newTestTileCache(t, tc.newStore(t, t.TempDir()), blockingFetcher)

			const n = 64
			grids := make([]*srtm.Grid, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					grids[i], errs[i] = tileCache.Get(context.Background(), grid.TileID)
				}()
			}
			<-started
			close(release)
			wg.Wait()

			assert.Equal(t, 1, fetcher.Fetches())
			for i := range n {
				assert.NoError(t, errs[i])
				assert.True(t, grids[i] == grids[0])
			}
			assert.Equal(t, grid, grids[0])
		})
	}
}

func TestTileCacheDifferentTilesInParallel(t *testing.T) {
	n34w119 := rampGrid(srtm.TileID{Lat: 34, Lon: -119}, 3)
	n35w119 := rampGrid(srtm.TileID{Lat: 35, Lon: -119}, 3)
	fetcher := newTestFetcher(n34w119, n35w119)

	// The fetch of N34W119 only completes once N35W119 has been fetched,
	// which deadlocks if fetches of different tiles are serialized.
	n35w119Fetched := make(chan struct{})
	orderedFetcher := srtm.FetcherFunc(func(ctx context.Context, tileID srtm.TileID) ([]byte, error) {
		if tileID == n34w119.TileID {
			<-n35w119Fetched
		} else {
			defer close(n35w119Fetched)
		}
		return fetcher.Fetch(ctx, tileID)
	})
	tileCache := newTestTileCache(t, mustObjectStore(t), orderedFetcher)

	var wg sync.WaitGroup
	for _, tileID := range []srtm.TileID{n34w119.TileID, n35w119.TileID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tileCache.Get(context.Background(), tileID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, fetcher.Fetches())
}

func TestTileCacheCancel(t *testing.T) {
	grid := rampGrid(srtm.TileID{Lat: 34, Lon: -119}, 3)
	fetcher := newTestFetcher(grid)
	started := make(chan struct{})
	release := make(chan struct{})
	fetchCtxErr := make(chan error, 1)
	blockingFetcher := srtm.FetcherFunc(func(ctx context.Context, tileID srtm.TileID) ([]byte, error) {
		close(started)
		<-release
		fetchCtxErr <- ctx.Err()
		return fetcher.Fetch(ctx, tileID)
	})
	tileCache := newTestTileCache(t, mustObjectStore(t), blockingFetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancelledErr := make(chan error, 1)
	go func() {
		_, err := tileCache.Get(ctx, grid.TileID)
		cancelledErr <- err
	}()
	<-started
	cancel()
	assert.IsError(t, <-cancelledErr, context.Canceled)

	waiterResult := make(chan *srtm.Grid, 1)
	go func() {
		actual, err := tileCache.Get(context.Background(), grid.TileID)
		assert.NoError(t, err)
		waiterResult <- actual
	}()
	close(release)

	assert.Equal(t, grid, <-waiterResult)
	assert.NoError(t, <-fetchCtxErr)
	assert.Equal(t, 1, fetcher.Fetches())
}

func TestTileCacheFetchFailed(t *testing.T) {
	grid := rampGrid(srtm.TileID{Lat: 34, Lon: -119}, 3)
	fetcher := newTestFetcher(grid)
	fetcher.failNext(grid.TileID, errors.New("connection reset"))
	tileCache := newTestTileCache(t, mustObjectStore(t), fetcher)

	_, err := tileCache.Get(t.Context(), grid.TileID)
	assert.IsError(t, err, srtm.ErrFetchFailed)
	assert.Equal(t, 0, tileCache.Len())

	actual, err := tileCache.Get(t.Context(), grid.TileID)
	assert.NoError(t, err)
	assert.Equal(t, grid, actual)
	assert.Equal(t, 2, fetcher.Fetches())
}

func TestTileCacheMalformedPayload(t *testing.T) {
	tileID := srtm.TileID{Lat: 34, Lon: -119}
	fetcher := newTestFetcher()
	fetcher.tiles[tileID] = []byte{1, 2, 3}
	tileCache := newTestTileCache(t, mustObjectStore(t), fetcher)

	_, err := tileCache.Get(t.Context(), tileID)
	assert.IsError(t, err, srtm.ErrFetchFailed)
	assert.IsError(t, err, srtm.ErrMalformedTile)
	assert.Equal(t, 2, fetcher.Fetches())

	// The failure is not cached.
	_, err = tileCache.Get(t.Context(), tileID)
	assert.IsError(t, err, srtm.ErrFetchFailed)
	assert.Equal(t, 4, fetcher.Fetches())
}

func TestTileCacheMalformedPayloadRefetched(t *testing.T) {
	grid := rampGrid(srtm.TileID{Lat: 34, Lon: -119}, 5)
	fetcher := &malformedOnceFetcher{
		Fetcher: newTestFetcher(grid),
	}
	tileCache := newTestTileCache(t, mustObjectStore(t), fetcher)

	actual, err := tileCache.Get(t.Context(), grid.TileID)
	assert.NoError(t, err)
	assert.Equal(t, grid, actual)
	assert.Equal(t, 2, int(fetcher.fetches.Load()))
}

// A malformedOnceFetcher returns a truncated payload on its first fetch.
type malformedOnceFetcher struct {
	srtm.Fetcher
	fetches atomic.Int64
}

func (f *malformedOnceFetcher) Fetch(ctx context.Context, tileID srtm.TileID) ([]byte, error) {
	data, err := f.Fetcher.Fetch(ctx, tileID)
	if f.fetches.Add(1) == 1 && err == nil {
		return data[:len(data)-1], nil
	}
	return data, err
}

func TestTileCacheCorruptStore(t *testing.T) {
	grid := rampGrid(srtm.TileID{Lat: 34, Lon: -119}, 5)

	for _, tc := range storeTestCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			tileCache := newTestTileCache(t, tc.newStore(t, dir), newTestFetcher(grid))
			_, err := tileCache.Get(t.Context(), grid.TileID)
			assert.NoError(t, err)

			filename := tc.filename(dir, grid.TileID)
			data, err := os.ReadFile(filename)
			assert.NoError(t, err)
			assert.NoError(t, os.WriteFile(filename, data[:len(data)/3], 0o644))

			fetcher := newTestFetcher(grid)
			store := tc.newStore(t, dir)
			actual, err := newTestTileCache(t, store, fetcher).Get(t.Context(), grid.TileID)
			assert.NoError(t, err)
			assert.Equal(t, grid, actual)
			assert.Equal(t, 1, fetcher.Fetches())

			// The refetched tile was persisted again.
			actual, err = store.Load(grid.TileID)
			assert.NoError(t, err)
			assert.Equal(t, grid, actual)
		})
	}
}

func TestTileCacheMemoryTiles(t *testing.T) {
	grids := []*srtm.Grid{
		rampGrid(srtm.TileID{Lat: 34, Lon: -119}, 3),
		rampGrid(srtm.TileID{Lat: 35, Lon: -119}, 3),
		rampGrid(srtm.TileID{Lat: 36, Lon: -119}, 3),
	}
	fetcher := newTestFetcher(grids...)
	tileCache := newTestTileCache(t, mustObjectStore(t), fetcher, srtm.WithMemoryTiles(2))
	for _, grid := range grids {
		_, err := tileCache.Get(t.Context(), grid.TileID)
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, tileCache.Len())

	// The evicted tile is reloaded from the store.
	actual, err := tileCache.Get(t.Context(), grids[0].TileID)
	assert.NoError(t, err)
	assert.Equal(t, grids[0], actual)
	assert.Equal(t, 3, fetcher.Fetches())
}

func TestNewTileCacheErrors(t *testing.T) {
	_, err := srtm.NewTileCache(nil, newTestFetcher())
	assert.Error(t, err)
	_, err = srtm.NewTileCache(mustObjectStore(t), nil)
	assert.Error(t, err)
	_, err = srtm.NewTileCache(mustObjectStore(t), newTestFetcher(), srtm.WithMemoryTiles(0))
	assert.Error(t, err)
}

func mustObjectStore(t *testing.T) *srtm.ObjectStore {
	t.Helper()
	store, err := srtm.NewObjectStore(t.TempDir())
	assert.NoError(t, err)
	return store
}
