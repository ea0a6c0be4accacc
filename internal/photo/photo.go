// Package photo writes still frames to disk as JPEG files.
package photo

import (
	"image"
	"image/jpeg"
	"os"
	"os/user"
	"path/filepath"

	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/spf13/afero"
)

// DirMode is the permission used when creating the photo directory
const DirMode os.FileMode = 0751

// Store saves photos to a filesystem
type Store struct {
	fs         afero.Fs
	defaultDir string
	quality    int
}

// NewStore creates a store. An empty defaultDir resolves to DefaultDir().
func NewStore(fs afero.Fs, defaultDir string, quality int) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if defaultDir == "" {
		defaultDir = DefaultDir()
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Store{fs: fs, defaultDir: defaultDir, quality: quality}
}

// DefaultDir is ~/Pictures/roboeye of the invoking user, looking through sudo
func DefaultDir() string {
	home := ""
	if name := os.Getenv("SUDO_USER"); name != "" {
		if u, err := user.Lookup(name); err == nil {
			home = u.HomeDir
		}
	}
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}
	return filepath.Join(home, "Pictures", "roboeye")
}

// Path returns where Save would write name in dir
func (s *Store) Path(name, dir string) string {
	if dir == "" {
		dir = s.defaultDir
	}
	return filepath.Join(dir, name+".jpg")
}

// Save ensures dir exists and writes img as <dir>/<name>.jpg. An empty dir
// uses the default directory. Failures are logged, not retried.
func (s *Store) Save(name, dir string, img image.Image) bool {
	log := logger.WithComponent("photo")
	path := s.Path(name, dir)

	if err := s.fs.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		log.Error().Err(err).Str("dir", filepath.Dir(path)).Msg("Failed to create photo directory")
		return false
	}

	f, err := s.fs.Create(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to create photo")
		return false
	}

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		log.Error().Err(err).Str("path", path).Msg("Failed to encode photo")
		return false
	}
	if err := f.Close(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to write photo")
		return false
	}

	log.Info().Str("path", path).Msg("Photo saved")
	return true
}
