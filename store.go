package srtm

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// A Store persists decoded tiles between processes.
//
// Load returns an error matching [fs.ErrNotExist] if the tile is not in the
// store and an error matching [ErrMalformedTile] if the stored tile is
// unreadable, for example because a previous process crashed while writing
// it.
type Store interface {
	Load(tileID TileID) (*Grid, error)
	Save(grid *Grid) error
	TileIDs() ([]TileID, error)
}

// A StoreOption sets an option on an [ArchiveStore] or an [ObjectStore].
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger zerolog.Logger
}

// WithStoreLogger sets the logger used by a store.
func WithStoreLogger(logger zerolog.Logger) StoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

func newStoreOptions(options []StoreOption) storeOptions {
	o := storeOptions{
		logger: zerolog.Nop(),
	}
	for _, option := range options {
		option(&o)
	}
	return o
}

// writeFileAtomic writes data to filename via a temporary file in the same
// directory, so readers see either the old or the new contents.
func writeFileAtomic(filename string, write func(*os.File) error) (err error) {
	tempFile, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tempFile.Close()
			_ = os.Remove(tempFile.Name())
		}
	}()
	if err := write(tempFile); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	return os.Rename(tempFile.Name(), filename)
}
