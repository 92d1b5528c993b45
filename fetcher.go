package srtm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrNoCoverage is returned by a [Fetcher] when a tile definitely does not
// exist, for example because it lies entirely over the ocean. Any other error
// returned by a Fetcher is considered transient.
var ErrNoCoverage = errors.New("no coverage")

// DefaultMaxTileSize is the default limit on the size of a fetched payload: an
// SRTM1 tile plus room for zip archive overhead.
const DefaultMaxTileSize = 2*SRTM1Resolution*SRTM1Resolution + 1<<20

var errTileTooLarge = errors.New("tile too large")

// A Fetcher fetches the raw HGT data for a tile.
type Fetcher interface {
	Fetch(ctx context.Context, tileID TileID) ([]byte, error)
}

// A FetcherFunc is a function that implements [Fetcher].
type FetcherFunc func(ctx context.Context, tileID TileID) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, tileID TileID) ([]byte, error) {
	return f(ctx, tileID)
}

// An FSFetcher fetches tiles from a filesystem containing files named
// N34W119.hgt or N34W119.hgt.zip.
type FSFetcher struct {
	fsys fs.FS
}

// NewFSFetcher returns a new FSFetcher that reads tiles from fsys.
func NewFSFetcher(fsys fs.FS) *FSFetcher {
	return &FSFetcher{
		fsys: fsys,
	}
}

// Fetch implements [Fetcher.Fetch].
func (f *FSFetcher) Fetch(ctx context.Context, tileID TileID) ([]byte, error) {
	name := tileID.Name() + ".hgt"
	switch data, err := fs.ReadFile(f.fsys, name); {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		return data, nil
	}
	switch data, err := fs.ReadFile(f.fsys, name+".zip"); {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNoCoverage
	case err != nil:
		return nil, err
	default:
		return unzipMember(data, name, DefaultMaxTileSize)
	}
}

// An HTTPFetcher fetches tiles over HTTP.
type HTTPFetcher struct {
	client      *http.Client
	urlTemplate string
	maxSize     int64
}

// An HTTPFetcherOption sets an option on an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// NewHTTPFetcher returns a new HTTPFetcher. The string {name} in urlTemplate
// is replaced with the tile's name, for example N34W119. Responses that are
// zip archives are unzipped.
func NewHTTPFetcher(urlTemplate string, options ...HTTPFetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		urlTemplate: urlTemplate,
		maxSize:     DefaultMaxTileSize,
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// WithMaxSize sets the maximum size of a response body, and of a tile
// unpacked from a zip archive. The default is [DefaultMaxTileSize].
func WithMaxSize(maxSize int64) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.maxSize = maxSize
	}
}

// URL returns the URL of the tile with the given id.
func (f *HTTPFetcher) URL(tileID TileID) string {
	return strings.ReplaceAll(f.urlTemplate, "{name}", tileID.Name())
}

// Fetch implements [Fetcher.Fetch].
func (f *HTTPFetcher) Fetch(ctx context.Context, tileID TileID) ([]byte, error) {
	url := f.URL(tileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrNoCoverage
	default:
		return nil, fmt.Errorf("%s: %s", url, resp.Status)
	}

	data, err := readAllLimit(resp.Body, f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	if isZip(data) {
		return unzipMember(data, tileID.Name()+".hgt", f.maxSize)
	}
	return data, nil
}

// readAllLimit reads all of r, returning an error if r contains more than
// maxSize bytes.
func readAllLimit(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", errTileTooLarge, maxSize)
	}
	return data, nil
}

var zipMagic = []byte("PK\x03\x04")

func isZip(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// unzipMember returns the contents, at most maxSize bytes, of the member called
// name in the zip archive in data.
func unzipMember(data []byte, name string, maxSize int64) ([]byte, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	file, err := zipReader.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: missing from archive", name)
	} else if err != nil {
		return nil, err
	}
	defer file.Close()
	return readAllLimit(file, maxSize)
}
