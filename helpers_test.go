package srtm_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/twpayne/go-srtm"
)

// newGrid returns a grid for tileID with all samples set to value.
func newGrid(tileID srtm.TileID, resolution int, value int16) *srtm.Grid {
	samples := make([]int16, resolution*resolution)
	for i := range samples {
		samples[i] = value
	}
	return &srtm.Grid{
		TileID:     tileID,
		Resolution: resolution,
		Samples:    samples,
		NoData:     srtm.NoDataValue,
	}
}

// rampGrid returns a grid for tileID whose samples increase by one from
// north-west to south-east.
func rampGrid(tileID srtm.TileID, resolution int) *srtm.Grid {
	grid := newGrid(tileID, resolution, 0)
	for i := range grid.Samples {
		grid.Samples[i] = int16(i)
	}
	return grid
}

// A testFetcher serves HGT data from memory and counts fetches.
type testFetcher struct {
	mutex   sync.Mutex
	tiles   map[srtm.TileID][]byte
	errs    map[srtm.TileID][]error
	fetches atomic.Int64
}

func newTestFetcher(grids ...*srtm.Grid) *testFetcher {
	f := &testFetcher{
		tiles: make(map[srtm.TileID][]byte),
		errs:  make(map[srtm.TileID][]error),
	}
	for _, grid := range grids {
		f.tiles[grid.TileID] = srtm.EncodeHGT(grid)
	}
	return f
}

// failNext makes the next fetches of tileID return errs, in order.
func (f *testFetcher) failNext(tileID srtm.TileID, errs ...error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.errs[tileID] = append(f.errs[tileID], errs...)
}

func (f *testFetcher) Fetch(ctx context.Context, tileID srtm.TileID) ([]byte, error) {
	f.fetches.Add(1)
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if errs := f.errs[tileID]; len(errs) > 0 {
		f.errs[tileID] = errs[1:]
		return nil, errs[0]
	}
	data, ok := f.tiles[tileID]
	if !ok {
		return nil, srtm.ErrNoCoverage
	}
	return data, nil
}

func (f *testFetcher) Fetches() int {
	return int(f.fetches.Load())
}
