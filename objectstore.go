package srtm

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

const (
	objectFileExt         = ".gob"
	objectSnapshotVersion = 1
)

// An ObjectStore stores each decoded tile in its own file as a gob-encoded
// snapshot. Loading a tile needs no HGT decoding, at the cost of more disk
// space than an [ArchiveStore].
type ObjectStore struct {
	dir    string
	logger zerolog.Logger
}

// A gridSnapshot is the persisted form of a Grid.
type gridSnapshot struct {
	Version    int
	Lat        int
	Lon        int
	Resolution int
	NoData     int16
	Samples    []int16
	Checksum   uint64
}

// NewObjectStore returns a new ObjectStore that keeps its files in dir.
func NewObjectStore(dir string, options ...StoreOption) (*ObjectStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	o := newStoreOptions(options)
	return &ObjectStore{
		dir:    dir,
		logger: o.logger,
	}, nil
}

// Filename returns the filename used for tileID.
func (s *ObjectStore) Filename(tileID TileID) string {
	return filepath.Join(s.dir, tileID.Name()+objectFileExt)
}

// Load implements [Store.Load].
func (s *ObjectStore) Load(tileID TileID) (*Grid, error) {
	filename := s.Filename(tileID)
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var snapshot gridSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", filename, ErrMalformedTile, err)
	}
	switch {
	case snapshot.Version != objectSnapshotVersion:
		return nil, fmt.Errorf("%s: %w: version %d", filename, ErrMalformedTile, snapshot.Version)
	case snapshot.Lat != tileID.Lat || snapshot.Lon != tileID.Lon:
		return nil, fmt.Errorf("%s: %w: contains tile %d,%d", filename, ErrMalformedTile, snapshot.Lat, snapshot.Lon)
	}

	grid := &Grid{
		TileID:     tileID,
		Resolution: snapshot.Resolution,
		Samples:    snapshot.Samples,
		NoData:     snapshot.NoData,
	}
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if checksum := gridChecksum(grid); checksum != snapshot.Checksum {
		return nil, fmt.Errorf("%s: %w: checksum mismatch", filename, ErrMalformedTile)
	}
	return grid, nil
}

// Save implements [Store.Save].
func (s *ObjectStore) Save(grid *Grid) error {
	snapshot := gridSnapshot{
		Version:    objectSnapshotVersion,
		Lat:        grid.TileID.Lat,
		Lon:        grid.TileID.Lon,
		Resolution: grid.Resolution,
		NoData:     grid.NoData,
		Samples:    grid.Samples,
		Checksum:   gridChecksum(grid),
	}
	filename := s.Filename(grid.TileID)
	if err := writeFileAtomic(filename, func(file *os.File) error {
		return gob.NewEncoder(file).Encode(&snapshot)
	}); err != nil {
		return err
	}
	s.logger.Debug().
		Str("filename", filename).
		Msg("saved tile")
	return nil
}

// TileIDs implements [Store.TileIDs].
func (s *ObjectStore) TileIDs() ([]TileID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var tileIDs []TileID
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), objectFileExt)
		if !ok || !entry.Type().IsRegular() {
			continue
		}
		tileID, err := ParseTileName(name)
		if err != nil {
			continue
		}
		tileIDs = append(tileIDs, tileID)
	}
	return tileIDs, nil
}

func gridChecksum(grid *Grid) uint64 {
	return xxhash.Sum64(EncodeHGT(grid))
}
