package srtm

import (
	"errors"
	"fmt"
)

var errGeoKeyParse = errors.New("geokey parse error")

// A GeoKey is a key in a GeoTIFF GeoKeyDirectoryTag.
type GeoKey uint16

// GeoKeys used to check that a GeoTIFF is in geographic coordinates.
const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGeodeticCRS  GeoKey = 2048
	GeoKeyAngularUnits GeoKey = 2054
)

// GeoKey values.
const (
	ModelTypeGeographic  = 2
	RasterPixelIsArea    = 1
	RasterPixelIsPoint   = 2
	GeodeticCRSWGS84     = 4326
	AngularUnitsDegree   = 9102
	geoKeyDirectoryInTag = 0
)

// ParseGeoKeyDirectory returns the short (inline) values in a GeoTIFF
// GeoKeyDirectoryTag. Keys whose values are stored in the double or ASCII
// parameter tags are skipped.
func ParseGeoKeyDirectory(directory []uint16) (map[GeoKey]int, error) {
	if len(directory) < 4 {
		return nil, errGeoKeyParse
	}
	if keyDirectoryVersion := directory[0]; keyDirectoryVersion != 1 {
		return nil, fmt.Errorf("%w: key directory version %d", errGeoKeyParse, keyDirectoryVersion)
	}
	if keyRevision := directory[1]; keyRevision != 1 {
		return nil, fmt.Errorf("%w: key revision %d", errGeoKeyParse, keyRevision)
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("%w: expected %d keys", errGeoKeyParse, numberOfKeys)
	}

	params := make(map[GeoKey]int, numberOfKeys)
	for i := range numberOfKeys {
		entry := directory[4+4*i : 4+4*(i+1)]
		if entry[1] != geoKeyDirectoryInTag {
			continue
		}
		if entry[2] != 1 {
			return nil, fmt.Errorf("%w: key %d has %d values", errGeoKeyParse, entry[0], entry[2])
		}
		params[GeoKey(entry[0])] = int(entry[3])
	}
	return params, nil
}

// checkGeographicGeoKeys returns an error if params describe anything other
// than a WGS84 geographic raster in degrees.
func checkGeographicGeoKeys(params map[GeoKey]int) error {
	for _, check := range []struct {
		key   GeoKey
		value int
	}{
		{GeoKeyGTModelType, ModelTypeGeographic},
		{GeoKeyGeodeticCRS, GeodeticCRSWGS84},
		{GeoKeyAngularUnits, AngularUnitsDegree},
	} {
		if value, ok := params[check.key]; ok && value != check.value {
			return fmt.Errorf("geokey %d: got %d, want %d: %w", check.key, value, check.value, errors.ErrUnsupported)
		}
	}
	return nil
}
