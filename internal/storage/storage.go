// Package storage manages the transient DEM and heightmap files of the
// heightmap server.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidID is returned when a file id is not a UUID.
var ErrInvalidID = errors.New("invalid file id")

// A Store keeps files in a single directory, named by file id.
type Store struct {
	dir    string
	logger *zap.Logger
}

// A StoreOption sets an option on a Store.
type StoreOption func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a new Store in dir, creating dir if needed.
func New(dir string, options ...StoreOption) (*Store, error) {
	s := &Store{
		dir:    dir,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return s, nil
}

// NewID returns a new random file id.
func NewID() string {
	return uuid.NewString()
}

// ParseID returns the canonical form of id, or ErrInvalidID if id is not a
// UUID. Only ids returned by ParseID are joined into paths.
func ParseID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return u.String(), nil
}

// DEMName returns the file name of the DEM with the given id.
func DEMName(id string) string {
	return "dem_" + id + ".tif"
}

// HeightmapName returns the file name of the heightmap of the DEM with the
// given id.
func HeightmapName(id string) string {
	return "dem_" + id + "_heightmap.png"
}

// DEMPath returns the path of the DEM with the given id.
func (s *Store) DEMPath(id string) string {
	return filepath.Join(s.dir, DEMName(id))
}

// HeightmapPath returns the path of the heightmap of the DEM with the given
// id.
func (s *Store) HeightmapPath(id string) string {
	return filepath.Join(s.dir, HeightmapName(id))
}

// SaveDEM writes the contents of r as the DEM with the given id and returns
// the number of bytes written. The DEM only appears once it is complete.
func (s *Store) SaveDEM(id string, r io.Reader) (int64, error) {
	f, err := os.CreateTemp(s.dir, "."+DEMName(id)+".*")
	if err != nil {
		return 0, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	n, err := io.Copy(f, r)
	if err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(f.Name(), s.DEMPath(id)); err != nil {
		return 0, err
	}
	ok = true

	s.logger.Info("saved DEM",
		zap.String("fileID", id),
		zap.Int64("sizeBytes", n),
	)
	return n, nil
}

// DEMExists returns whether the DEM with the given id exists.
func (s *Store) DEMExists(id string) (bool, error) {
	switch _, err := os.Stat(s.DEMPath(id)); {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

// Cleanup removes the files with the given id and returns the names of the
// files that were removed. Files that do not exist are ignored, so calling
// Cleanup repeatedly is safe.
func (s *Store) Cleanup(id string) ([]string, error) {
	deleted := []string{}
	for _, name := range []string{DEMName(id), HeightmapName(id)} {
		switch err := os.Remove(filepath.Join(s.dir, name)); {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return deleted, err
		default:
			deleted = append(deleted, name)
			s.logger.Info("deleted",
				zap.String("fileID", id),
				zap.String("name", name),
			)
		}
	}
	return deleted, nil
}
