package srtm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math"

	gtiff "github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	xtiff "golang.org/x/image/tiff"
)

// A GeoTIFFFetcher fetches tiles from a filesystem containing single band
// 16-bit GeoTIFF files named N34W119.tif and converts them to HGT data.
type GeoTIFFFetcher struct {
	fsys fs.FS
}

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal
// the georeferencing tags of an IFD.
type geoTIFFIFD struct {
	ModelTiepointTag   []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag []uint16  `tiff:"field,tag=34735"`
}

// NewGeoTIFFFetcher returns a new GeoTIFFFetcher that reads tiles from fsys.
func NewGeoTIFFFetcher(fsys fs.FS) *GeoTIFFFetcher {
	return &GeoTIFFFetcher{
		fsys: fsys,
	}
}

// Fetch implements [Fetcher.Fetch].
func (f *GeoTIFFFetcher) Fetch(ctx context.Context, tileID TileID) ([]byte, error) {
	filename := tileID.Name() + ".tif"
	data, err := fs.ReadFile(f.fsys, filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNoCoverage
	case err != nil:
		return nil, err
	}

	img, err := xtiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	gray16, ok := img.(*image.Gray16)
	if !ok {
		return nil, fmt.Errorf("%s: %T: %w", filename, img, errors.ErrUnsupported)
	}
	bounds := gray16.Bounds()
	if bounds.Dx() != bounds.Dy() || bounds.Dx() < 2 {
		return nil, fmt.Errorf("%s: %dx%d: %w", filename, bounds.Dx(), bounds.Dy(), ErrMalformedTile)
	}

	if err := checkGeoTIFFTags(data, tileID, bounds.Dx()); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	// image.Gray16 stores its pixels as big-endian 16-bit values, which is
	// exactly HGT's encoding once stride padding is removed.
	rowBytes := 2 * bounds.Dx()
	payload := make([]byte, 0, rowBytes*bounds.Dy())
	for y := range bounds.Dy() {
		offset := y * gray16.Stride
		payload = append(payload, gray16.Pix[offset:offset+rowBytes]...)
	}
	return payload, nil
}

// checkGeoTIFFTags checks that the georeferencing tags in data, if present,
// place the raster on tileID.
func checkGeoTIFFTags(data []byte, tileID TileID, resolution int) error {
	tiffTIFF, err := gtiff.Parse(bytes.NewReader(data), gtiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return err
	}
	if len(tiffTIFF.IFDs()) != 1 {
		return fmt.Errorf("found %d IFDs, expected 1", len(tiffTIFF.IFDs()))
	}

	var ifd geoTIFFIFD
	if err := gtiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return err
	}

	var params map[GeoKey]int
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		params, err = ParseGeoKeyDirectory(ifd.GeoKeyDirectoryTag)
		if err != nil {
			return err
		}
		if err := checkGeographicGeoKeys(params); err != nil {
			return err
		}
	}

	if len(ifd.ModelTiepointTag) != 0 {
		return checkTiepoint(ifd.ModelTiepointTag, params[GeoKeyGTRasterType], tileID, resolution)
	}

	return nil
}

// checkTiepoint checks that tiepoint places the north-west sample of a raster
// with the given resolution on the north-west corner of tileID.
//
// In a pixel-is-area raster the tiepoint is the outer corner of the first
// pixel, half a pixel north-west of its sample. In a pixel-is-point raster it
// is the sample itself. If rasterType is unknown then either is accepted.
func checkTiepoint(tiepoint []float64, rasterType int, tileID TileID, resolution int) error {
	if len(tiepoint) != 6 || tiepoint[0] != 0 || tiepoint[1] != 0 {
		return errors.ErrUnsupported
	}
	pixelSize := 1 / float64(resolution-1)
	wantX, wantY := float64(tileID.Lon), float64(tileID.Lat+1)
	tolerance := 0.01 * pixelSize
	switch rasterType {
	case RasterPixelIsArea:
		wantX -= pixelSize / 2
		wantY += pixelSize / 2
	case RasterPixelIsPoint:
	default:
		tolerance = pixelSize/2 + tolerance
	}
	x, y := tiepoint[3], tiepoint[4]
	if math.Abs(x-wantX) > tolerance || math.Abs(y-wantY) > tolerance {
		return fmt.Errorf("tiepoint %g,%g is not the north-west corner of %s", x, y, tileID)
	}
	return nil
}
