package srtm

import (
	"fmt"
	"math"
)

// NoDataValue is the sample value that marks a missing sample in SRTM data.
const NoDataValue int16 = -32768

// samplePointEpsilon is the distance, in samples, within which a coordinate is
// treated as lying exactly on a sample.
const samplePointEpsilon = 1e-9

// A Grid is the decoded sample grid of a single tile.
//
// Samples are stored row-major. Row 0 is the northern edge of the tile and
// column 0 is its western edge. Samples lie on the tile's edges, so
// neighboring samples are 1/(Resolution-1) degrees apart and the last row
// and column duplicate the first row and column of the adjacent tiles.
//
// Grids returned by this package are shared and must not be modified.
type Grid struct {
	TileID     TileID
	Resolution int
	Samples    []int16
	NoData     int16
}

// Validate returns an error if g's samples do not match its resolution.
func (g *Grid) Validate() error {
	switch {
	case g.Resolution < 2:
		return fmt.Errorf("%s: %w: resolution %d", g.TileID, ErrMalformedTile, g.Resolution)
	case len(g.Samples) != g.Resolution*g.Resolution:
		return fmt.Errorf("%s: %w: %d samples for resolution %d", g.TileID, ErrMalformedTile, len(g.Samples), g.Resolution)
	default:
		return nil
	}
}

// At returns the sample at row, col.
func (g *Grid) At(row, col int) int16 {
	return g.Samples[row*g.Resolution+col]
}

// Interpolate returns the bilinearly interpolated elevation at offset dy, dx
// within g's tile, as returned by [TileID.Offset]. It returns false if any
// of the four surrounding samples is no data.
func (g *Grid) Interpolate(dy, dx float64) (float64, bool) {
	last := g.Resolution - 1
	y := snapToSample((1 - dy) * float64(last))
	x := snapToSample(dx * float64(last))

	row := min(max(int(math.Floor(y)), 0), last)
	col := min(max(int(math.Floor(x)), 0), last)
	fy := y - float64(row)
	fx := x - float64(col)
	row1 := min(row+1, last)
	col1 := min(col+1, last)

	s00 := g.At(row, col)
	s01 := g.At(row, col1)
	s10 := g.At(row1, col)
	s11 := g.At(row1, col1)
	if s00 == g.NoData || s01 == g.NoData || s10 == g.NoData || s11 == g.NoData {
		return math.NaN(), false
	}

	return 0 +
		float64(s00)*(1-fx)*(1-fy) +
		float64(s01)*fx*(1-fy) +
		float64(s10)*(1-fx)*fy +
		float64(s11)*fx*fy, true
}

// snapToSample rounds v to the nearest integer if it is within
// samplePointEpsilon of it, so that coordinates on a sample return that
// sample's value exactly.
func snapToSample(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < samplePointEpsilon {
		return r
	}
	return v
}
