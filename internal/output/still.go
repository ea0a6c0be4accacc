package output

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bryanchriswhite/RoboEye/internal/frame"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
)

// ErrNoFrame means the camera is stopped or has not published yet
var ErrNoFrame = errors.New("camera not available")

// Still serves the latest frame as a single JPEG image
type Still struct {
	source Source
	cfg    Config
	encode func(*frame.Frame) ([]byte, error)
}

// NewStill creates a still-image handler over source
func NewStill(source Source, cfg Config) *Still {
	cfg = cfg.withDefaults()
	s := &Still{source: source, cfg: cfg}
	s.encode = func(f *frame.Frame) ([]byte, error) {
		return EncodeJPEG(f.Image, s.cfg.Quality)
	}
	return s
}

// Snapshot encodes the latest frame
func (s *Still) Snapshot() ([]byte, *frame.Frame, error) {
	if !s.source.IsRunning() {
		return nil, nil, ErrNoFrame
	}
	f, ok := s.source.Read()
	if !ok {
		return nil, nil, ErrNoFrame
	}
	data, err := s.encode(f)
	if err != nil {
		return nil, f, err
	}
	return data, f, nil
}

func (s *Still) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, f, err := s.Snapshot()
	switch {
	case errors.Is(err, ErrNoFrame):
		http.Error(w, "Camera not available", http.StatusServiceUnavailable)
		return
	case err != nil:
		logger.WithComponent("still").Error().Err(err).Uint64("seq", f.Seq).Msg("Failed to encode still")
		http.Error(w, "Failed to encode frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(data)
}
