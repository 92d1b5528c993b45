package srtm

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
)

// ArchiveFilename is the name of the archive used by an [ArchiveStore].
const ArchiveFilename = "tiles.zip"

// archiveMutexes maps absolute archive filenames to the *sync.RWMutex shared
// by every ArchiveStore in the process using that archive.
var archiveMutexes sync.Map

// An ArchiveStore stores tiles as HGT data in a single compressed zip
// archive. Tiles are decoded every time they are loaded.
//
// Updates to the archive are serialized between all ArchiveStores in the
// process that use the same directory, and between processes with an
// advisory lock on a lock file next to the archive.
type ArchiveStore struct {
	mutex    *sync.RWMutex
	filename string
	fileLock string
	logger   zerolog.Logger
}

// NewArchiveStore returns a new ArchiveStore that keeps its archive in dir.
func NewArchiveStore(dir string, options ...StoreOption) (*ArchiveStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	filename, err := filepath.Abs(filepath.Join(dir, ArchiveFilename))
	if err != nil {
		return nil, err
	}
	mutex, _ := archiveMutexes.LoadOrStore(filename, &sync.RWMutex{})
	o := newStoreOptions(options)
	return &ArchiveStore{
		mutex:    mutex.(*sync.RWMutex),
		filename: filename,
		fileLock: filename + ".lock",
		logger:   o.logger,
	}, nil
}

// Filename returns the filename of s's archive.
func (s *ArchiveStore) Filename() string {
	return s.filename
}

// Load implements [Store.Load].
func (s *ArchiveStore) Load(tileID TileID) (*Grid, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	zipReader, err := zip.OpenReader(s.filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%s: %w: %w", s.filename, ErrMalformedTile, err)
	}
	defer zipReader.Close()

	memberName := archiveMemberName(tileID)
	index := slices.IndexFunc(zipReader.File, func(file *zip.File) bool {
		return file.Name == memberName
	})
	if index < 0 {
		return nil, fmt.Errorf("%s: %s: %w", s.filename, memberName, fs.ErrNotExist)
	}

	data, err := readZipFile(zipReader.File[index])
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w: %w", s.filename, memberName, ErrMalformedTile, err)
	}
	return DecodeHGT(tileID, data)
}

// Save implements [Store.Save]. The archive is rewritten with grid replacing
// any existing member for the same tile. Other members are copied without
// being recompressed. Members whose data cannot be located, or the whole
// archive if it is unreadable, are dropped.
func (s *ArchiveStore) Save(grid *Grid) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	fileLock := flock.New(s.fileLock)
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("%s: %w", s.fileLock, err)
	}
	defer func() {
		_ = fileLock.Unlock()
	}()

	memberName := archiveMemberName(grid.TileID)
	return writeFileAtomic(s.filename, func(file *os.File) error {
		zipWriter := zip.NewWriter(file)

		switch zipReader, err := zip.OpenReader(s.filename); {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			s.logger.Warn().
				Err(err).
				Str("filename", s.filename).
				Msg("discarding unreadable archive")
		default:
			err := s.copyMembers(zipWriter, zipReader, memberName)
			_ = zipReader.Close()
			if err != nil {
				return err
			}
		}

		w, err := zipWriter.CreateHeader(&zip.FileHeader{
			Name:     memberName,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			return err
		}
		if _, err := w.Write(EncodeHGT(grid)); err != nil {
			return err
		}
		return zipWriter.Close()
	})
}

// TileIDs implements [Store.TileIDs].
func (s *ArchiveStore) TileIDs() ([]TileID, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	zipReader, err := zip.OpenReader(s.filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, err
	}
	defer zipReader.Close()

	tileIDs := make([]TileID, 0, len(zipReader.File))
	for _, file := range zipReader.File {
		tileID, err := ParseTileName(strings.TrimSuffix(file.Name, ".hgt"))
		if err != nil {
			continue
		}
		tileIDs = append(tileIDs, tileID)
	}
	return tileIDs, nil
}

// copyMembers copies the compressed data of all members of zipReader except
// skipName to zipWriter.
func (s *ArchiveStore) copyMembers(zipWriter *zip.Writer, zipReader *zip.ReadCloser, skipName string) error {
	for _, file := range zipReader.File {
		if file.Name == skipName {
			continue
		}
		if _, err := file.DataOffset(); err != nil {
			s.logger.Warn().
				Err(err).
				Str("filename", s.filename).
				Str("member", file.Name).
				Msg("discarding unreadable archive member")
			continue
		}
		if err := zipWriter.Copy(file); err != nil {
			return err
		}
	}
	return nil
}

func archiveMemberName(tileID TileID) string {
	return tileID.Name() + ".hgt"
}

// readZipFile returns the contents of file, verifying its checksum.
func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
