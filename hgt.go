package srtm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Standard SRTM resolutions.
const (
	SRTM1Resolution = 3601 // One arc-second.
	SRTM3Resolution = 1201 // Three arc-seconds.
)

// ErrMalformedTile is returned when tile data cannot be decoded.
var ErrMalformedTile = errors.New("malformed tile")

// DecodeHGT decodes data in HGT format, a square row-major grid of
// big-endian signed 16-bit samples starting at the north-west corner.
func DecodeHGT(tileID TileID, data []byte) (*Grid, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%s: %w: odd length %d", tileID, ErrMalformedTile, len(data))
	}
	n := len(data) / 2
	resolution := int(math.Sqrt(float64(n)))
	// Correct for floating point error in the square root.
	for resolution*resolution > n {
		resolution--
	}
	for (resolution+1)*(resolution+1) <= n {
		resolution++
	}
	if resolution*resolution != n {
		return nil, fmt.Errorf("%s: %w: %d samples is not a square", tileID, ErrMalformedTile, n)
	}

	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(data[2*i : 2*i+2]))
	}
	g := &Grid{
		TileID:     tileID,
		Resolution: resolution,
		Samples:    samples,
		NoData:     NoDataValue,
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// EncodeHGT encodes g in HGT format.
//
// HGT has no field for the no-data sentinel, so samples equal to g.NoData are
// written as [NoDataValue]. [DecodeHGT] is the inverse of EncodeHGT for grids
// whose NoData is NoDataValue. For other grids the decoded grid has the same
// no-data samples but uses NoDataValue as its sentinel.
func EncodeHGT(g *Grid) []byte {
	data := make([]byte, 2*len(g.Samples))
	for i, sample := range g.Samples {
		if sample == g.NoData {
			sample = NoDataValue
		}
		binary.BigEndian.PutUint16(data[2*i:2*i+2], uint16(sample))
	}
	return data
}
