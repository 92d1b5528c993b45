// Package srtm returns elevations from one-degree SRTM-style elevation
// tiles, fetching, caching, and interpolating tiles as needed.
package srtm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrOutOfRange is returned for coordinates outside the valid latitude and
// longitude domain.
var ErrOutOfRange = errors.New("coordinate out of range")

// A TileID identifies a one-degree tile by the floor of its latitude and
// longitude. The tile covers [Lat, Lat+1) x [Lon, Lon+1).
type TileID struct {
	Lat int
	Lon int
}

// NewTileID returns the TileID of the tile containing lat, lon. The poles
// and the antimeridian belong to the tiles south and west of them, so
// lat == 90 maps to tile 89 and lon == 180 maps to tile 179.
func NewTileID(lat, lon float64) (TileID, error) {
	if !validCoord(lat, lon) {
		return TileID{}, fmt.Errorf("%w: lat %g lon %g", ErrOutOfRange, lat, lon)
	}
	return TileID{
		Lat: min(int(math.Floor(lat)), 89),
		Lon: min(int(math.Floor(lon)), 179),
	}, nil
}

// Offset returns the position of lat, lon within t. Both values are in
// [0, 1) except on the closed north and east edges of the Earth, where they
// may be 1.
func (t TileID) Offset(lat, lon float64) (dy, dx float64) {
	return lat - float64(t.Lat), lon - float64(t.Lon)
}

// Contains returns if t contains lat, lon.
func (t TileID) Contains(lat, lon float64) bool {
	dy, dx := t.Offset(lat, lon)
	switch {
	case dy < 0 || dx < 0:
		return false
	case dy > 1 || dx > 1:
		return false
	case dy == 1 && t.Lat != 89:
		return false
	case dx == 1 && t.Lon != 179:
		return false
	default:
		return true
	}
}

// Name returns t's hemisphere-prefixed name, for example N34W119.
func (t TileID) Name() string {
	ns, lat := 'N', t.Lat
	if lat < 0 {
		ns, lat = 'S', -lat
	}
	ew, lon := 'E', t.Lon
	if lon < 0 {
		ew, lon = 'W', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d", ns, lat, ew, lon)
}

func (t TileID) String() string {
	return t.Name()
}

// ParseTileName parses a tile name as returned by [TileID.Name].
func ParseTileName(name string) (TileID, error) {
	if len(name) != 7 {
		return TileID{}, fmt.Errorf("%s: invalid tile name", name)
	}
	lat, err := strconv.Atoi(name[1:3])
	if err != nil {
		return TileID{}, fmt.Errorf("%s: invalid latitude: %w", name, err)
	}
	lon, err := strconv.Atoi(name[4:7])
	if err != nil {
		return TileID{}, fmt.Errorf("%s: invalid longitude: %w", name, err)
	}
	switch name[0] {
	case 'N':
	case 'S':
		lat = -lat
	default:
		return TileID{}, fmt.Errorf("%s: invalid hemisphere %c", name, name[0])
	}
	switch name[3] {
	case 'E':
	case 'W':
		lon = -lon
	default:
		return TileID{}, fmt.Errorf("%s: invalid hemisphere %c", name, name[3])
	}
	if lat < -90 || lat > 89 || lon < -180 || lon > 179 {
		return TileID{}, fmt.Errorf("%s: %w", name, ErrOutOfRange)
	}
	return TileID{Lat: lat, Lon: lon}, nil
}

func validCoord(lat, lon float64) bool {
	// NaNs fail both comparisons.
	return -90 <= lat && lat <= 90 && -180 <= lon && lon <= 180
}
